package claim

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-validator/internal/notify"
)

var _ = Describe("BoltDB", func() {
	var (
		db     *BoltDB
		dbPath string
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "claims.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		db.Close()
	})

	record := func(id string) *ClaimRecord {
		c := anitaClaim("250.00")
		c.ID = id
		parsed := restaurantFields("250.00")
		return &ClaimRecord{
			Claim:     c,
			State:     StateNotified,
			Parsed:    &parsed,
			Verdict:   &Verdict{Approved: true, Fingerprint: ComputeFingerprint(parsed)},
			Message:   "approved",
			Audience:  notify.AudienceEmployee,
			CreatedAt: time.Date(2025, 8, 10, 9, 0, 0, 0, time.UTC),
		}
	}

	Describe("SaveClaim and GetClaim", func() {
		It("should round trip a record", func() {
			Expect(db.SaveClaim(record("claim-1"))).To(Succeed())

			got, err := db.GetClaim("claim-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Claim.EmployeeName).To(Equal("Anita Singh"))
			Expect(got.Claim.ClaimedAmount.Equal(decimal.RequireFromString("250"))).To(BeTrue())
			Expect(got.State).To(Equal(StateNotified))
			Expect(got.Verdict.Fingerprint).To(Equal(ComputeFingerprint(restaurantFields("250.00"))))
			Expect(got.Parsed.Date).To(HaveValue(BeTemporally("==", time.Date(2025, 8, 9, 0, 0, 0, 0, time.UTC))))
			Expect(got.Audience).To(Equal(notify.AudienceEmployee))
		})

		It("should replace a record with the same ID", func() {
			Expect(db.SaveClaim(record("claim-1"))).To(Succeed())
			updated := record("claim-1")
			updated.Message = "again"
			Expect(db.SaveClaim(updated)).To(Succeed())

			got, err := db.GetClaim("claim-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Message).To(Equal("again"))
		})
	})

	Describe("GetClaim", func() {
		When("the claim does not exist", func() {
			It("returns ErrClaimNotFound", func() {
				_, err := db.GetClaim("missing")
				Expect(err).To(MatchError(ErrClaimNotFound))
			})
		})
	})

	Describe("ListClaims", func() {
		When("there are no claims", func() {
			It("should return an empty list", func() {
				records, err := db.ListClaims()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).NotTo(BeNil())
				Expect(records).To(BeEmpty())
			})
		})

		When("claims exist", func() {
			BeforeEach(func() {
				Expect(db.SaveClaim(record("claim-1"))).To(Succeed())
				Expect(db.SaveClaim(record("claim-2"))).To(Succeed())
			})

			It("should return all of them", func() {
				records, err := db.ListClaims()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(2))
			})
		})
	})

	It("should persist claims across a reopen", func() {
		Expect(db.SaveClaim(record("claim-1"))).To(Succeed())
		Expect(db.Close()).To(Succeed())

		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
		_, err = db.GetClaim("claim-1")
		Expect(err).NotTo(HaveOccurred())
	})
})
