package claim_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-validator/internal/claim"
	"github.com/zombor/expense-validator/internal/notify"
)

// stubExtractor returns the same transcription for every receipt
type stubExtractor struct {
	text string
}

func (s *stubExtractor) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	return s.text, nil
}

func (s *stubExtractor) Close() error {
	return nil
}

var _ = Describe("Integration", func() {
	var (
		tempDir    string
		db         *claim.BoltDB
		store      claim.Storage
		extractor  *stubExtractor
		notifyPath string
		service    *claim.Service
		httpServer *httptest.Server
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()

		var err error
		db, err = claim.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = claim.NewLocalStorage(filepath.Join(tempDir, "receipts"))
		Expect(err).NotTo(HaveOccurred())

		extractor = &stubExtractor{text: "Maarhaba Restaurant\nDate: 09/08/2025\nGuest: Anita Singh\nTotal: ₹250.00"}
		notifyPath = filepath.Join(tempDir, "notifications.jsonl")

		sink, err := notify.Build([]string{"file", "log"}, notify.Config{FilePath: notifyPath})
		Expect(err).NotTo(HaveOccurred())

		service = claim.NewService(db, db, extractor, store, sink, claim.Options{
			Composer: claim.Composer{CurrencySymbol: "₹"},
		})
		httpServer = httptest.NewServer(claim.NewServer(service, claim.BasicAuth{}).Handler())
	})

	AfterEach(func() {
		httpServer.Close()
		db.Close()
	})

	submit := func() *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		Expect(writer.WriteField("employee_id", "E12345")).To(Succeed())
		Expect(writer.WriteField("employee_name", "Anita Singh")).To(Succeed())
		Expect(writer.WriteField("claimed_amount", "250.00")).To(Succeed())
		Expect(writer.WriteField("date", "2025-08-09")).To(Succeed())
		part, err := writer.CreateFormFile("file", "bill.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("png bytes"))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(httpServer.URL+"/api/claims", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("should approve a claim, store it and notify the employee", func() {
		resp := submit()
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var record claim.ClaimRecord
		Expect(json.NewDecoder(resp.Body).Decode(&record)).To(Succeed())
		Expect(record.Verdict.Approved).To(BeTrue())

		Expect(filepath.Join(tempDir, "receipts", record.Claim.Receipt.Path)).To(BeAnExistingFile())

		stored, err := service.GetClaim(record.Claim.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.State).To(Equal(claim.StateNotified))

		data, err := os.ReadFile(notifyPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"audience":"employee"`))
		Expect(db.FingerprintCount()).To(Equal(1))
	})

	It("should route a resubmitted receipt to finance", func() {
		submit().Body.Close()

		resp := submit()
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var record claim.ClaimRecord
		Expect(json.NewDecoder(resp.Body).Decode(&record)).To(Succeed())
		Expect(record.Verdict.NotDuplicate).To(BeFalse())
		Expect(record.Audience).To(Equal(notify.AudienceFinance))

		data, err := os.ReadFile(notifyPath)
		Expect(err).NotTo(HaveOccurred())
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		Expect(lines).To(HaveLen(2))
		Expect(lines[1]).To(ContainSubstring(`"audience":"finance"`))

		records, err := service.ListClaims()
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(2))
	})

	It("should approve only one of many concurrent submissions of the same receipt", func() {
		const submissions = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			approved int
		)
		for i := 0; i < submissions; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				record, err := service.SubmitClaim(context.Background(), claim.ClaimInput{
					EmployeeID:    "E12345",
					EmployeeName:  "Anita Singh",
					ClaimedAmount: "250.00",
					Date:          "2025-08-09",
					Filename:      "bill.png",
					Data:          []byte("png bytes"),
				})
				Expect(err).NotTo(HaveOccurred())
				if record.Verdict.Approved {
					mu.Lock()
					approved++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Expect(approved).To(Equal(1))
		Expect(db.FingerprintCount()).To(Equal(1))
	})

	It("should keep accepted receipts across a restart", func() {
		submit().Body.Close()
		dbPath := filepath.Join(tempDir, "test.db")
		Expect(db.Close()).To(Succeed())

		var err error
		db, err = claim.NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
		service = claim.NewService(db, db, extractor, store, nil, claim.Options{})

		record, err := service.SubmitClaim(context.Background(), claim.ClaimInput{
			EmployeeID:    "E12345",
			EmployeeName:  "Anita Singh",
			ClaimedAmount: "250.00",
			Date:          "2025-08-09",
			Filename:      "bill.png",
			Data:          []byte("png bytes"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(record.Verdict.NotDuplicate).To(BeFalse())
	})
})
