package claim

import (
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-validator/internal/notify"
)

func ptr[T any](v T) *T {
	return &v
}

func anitaClaim(amount string) Claim {
	return Claim{
		ID:            "claim-1",
		EmployeeID:    "E12345",
		EmployeeName:  "Anita Singh",
		ClaimedAmount: decimal.RequireFromString(amount),
		Date:          time.Date(2025, 8, 9, 0, 0, 0, 0, time.UTC),
	}
}

func restaurantFields(amount string) ParsedFields {
	return ParsedFields{
		Amount:   ptr(decimal.RequireFromString(amount)),
		Date:     ptr(time.Date(2025, 8, 9, 0, 0, 0, 0, time.UTC)),
		Merchant: ptr("Maarhaba Restaurant"),
	}
}

// failingIndex fails every lookup
type failingIndex struct{ err error }

func (f failingIndex) Contains(fp Fingerprint) (bool, error) { return false, f.err }
func (f failingIndex) Record(fp Fingerprint) error           { return f.err }
func (f failingIndex) Forget(fp Fingerprint) error           { return f.err }
func (f failingIndex) CheckAndRecord(fp Fingerprint, record bool) (bool, error) {
	return false, f.err
}

var _ = Describe("Engine", func() {
	var (
		index   *MemoryIndex
		engine  *Engine
		claim   Claim
		parsed  ParsedFields
		rawText string
		verdict Verdict
		err     error
	)

	BeforeEach(func() {
		index = NewMemoryIndex()
		engine = NewEngine(index, DefaultPolicy())
		claim = anitaClaim("250.00")
		parsed = restaurantFields("250.00")
		rawText = restaurantReceipt
	})

	JustBeforeEach(func() {
		verdict, err = engine.Validate(claim, parsed, rawText)
	})

	When("every check passes", func() {
		It("should approve the claim", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.AmountOK).To(BeTrue())
			Expect(verdict.DateOK).To(BeTrue())
			Expect(verdict.NameOK).To(BeTrue())
			Expect(verdict.NotDuplicate).To(BeTrue())
			Expect(verdict.WithinLimit).To(BeTrue())
			Expect(verdict.Approved).To(BeTrue())
			Expect(verdict.Explanation).To(BeEmpty())
		})

		It("should record the receipt fingerprint", func() {
			Expect(index.Contains(ComputeFingerprint(restaurantFields("250")))).To(BeTrue())
			Expect(index.Len()).To(Equal(1))
		})
	})

	When("the claimed amount differs from the receipt", func() {
		BeforeEach(func() {
			claim = anitaClaim("300.00")
		})

		It("should reject the claim", func() {
			Expect(verdict.AmountOK).To(BeFalse())
			Expect(verdict.Approved).To(BeFalse())
			Expect(verdict.Explanation).To(ContainSubstring("receipt amount 250.00 does not match claimed amount 300.00"))
		})

		It("should leave the index unchanged", func() {
			Expect(index.Len()).To(BeZero())
		})
	})

	When("the same receipt is validated twice", func() {
		It("should reject the second as a duplicate", func() {
			Expect(verdict.Approved).To(BeTrue())

			second, err := engine.Validate(claim, parsed, rawText)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.NotDuplicate).To(BeFalse())
			Expect(second.Approved).To(BeFalse())
			Expect(second.Explanation).To(ContainSubstring("receipt already claimed (fingerprint " + verdict.Fingerprint.Short() + ")"))
			Expect(index.Len()).To(Equal(1))
		})
	})

	When("the amount matches but exceeds the limit", func() {
		BeforeEach(func() {
			claim = anitaClaim("6000.00")
			parsed = restaurantFields("6000.00")
		})

		It("should reject the claim", func() {
			Expect(verdict.AmountOK).To(BeTrue())
			Expect(verdict.WithinLimit).To(BeFalse())
			Expect(verdict.Approved).To(BeFalse())
			Expect(verdict.Explanation).To(Equal("amount 6000.00 exceeds the per-claim limit of 5000.00"))
		})
	})

	When("the amount equals the limit", func() {
		BeforeEach(func() {
			claim = anitaClaim("5000")
			parsed = restaurantFields("5000.00")
		})

		It("should approve the claim", func() {
			Expect(verdict.WithinLimit).To(BeTrue())
			Expect(verdict.Approved).To(BeTrue())
		})
	})

	When("the employee name is not on the receipt", func() {
		BeforeEach(func() {
			rawText = "Maarhaba Restaurant\nGuest: An1ta S1ngh\nTotal ₹250.00"
		})

		It("should reject the claim on the name alone", func() {
			Expect(verdict.NameOK).To(BeFalse())
			Expect(verdict.AmountOK).To(BeTrue())
			Expect(verdict.DateOK).To(BeTrue())
			Expect(verdict.Approved).To(BeFalse())
			Expect(verdict.Explanation).To(Equal(`employee name "Anita Singh" not found on receipt`))
		})

		It("should leave the index unchanged", func() {
			Expect(index.Len()).To(BeZero())
		})
	})

	When("the name differs only in case", func() {
		BeforeEach(func() {
			rawText = "GUEST: ANITA SINGH"
		})

		It("should still match", func() {
			Expect(verdict.NameOK).To(BeTrue())
		})
	})

	When("the amounts differ by less than the tolerance", func() {
		BeforeEach(func() {
			claim = anitaClaim("250.005")
		})

		It("should treat them as equal", func() {
			Expect(verdict.AmountOK).To(BeTrue())
		})
	})

	When("the amounts differ by exactly the tolerance", func() {
		BeforeEach(func() {
			claim = anitaClaim("250.01")
		})

		It("should treat them as different", func() {
			Expect(verdict.AmountOK).To(BeFalse())
		})
	})

	When("the receipt date differs", func() {
		BeforeEach(func() {
			parsed.Date = ptr(time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC))
		})

		It("should reject the claim", func() {
			Expect(verdict.DateOK).To(BeFalse())
			Expect(verdict.Explanation).To(ContainSubstring("receipt date 2025-08-10 does not match claim date 2025-08-09"))
		})
	})

	When("the claim date carries a time of day", func() {
		BeforeEach(func() {
			claim.Date = time.Date(2025, 8, 9, 18, 45, 0, 0, time.UTC)
		})

		It("should compare calendar dates", func() {
			Expect(verdict.DateOK).To(BeTrue())
		})
	})

	When("nothing was parsed", func() {
		BeforeEach(func() {
			parsed = ParsedFields{}
			rawText = ""
		})

		It("should fail every field check without an error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.AmountOK).To(BeFalse())
			Expect(verdict.DateOK).To(BeFalse())
			Expect(verdict.NameOK).To(BeFalse())
			Expect(verdict.WithinLimit).To(BeFalse())
			Expect(verdict.Explanation).To(Equal(`no amount found on receipt; no date found on receipt; employee name "Anita Singh" not found on receipt`))
		})
	})

	When("the index fails", func() {
		BeforeEach(func() {
			engine = NewEngine(failingIndex{err: errors.New("disk gone")}, DefaultPolicy())
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("disk gone")))
		})
	})

	When("the policy is configured", func() {
		BeforeEach(func() {
			engine = NewEngine(index, Policy{
				AmountTolerance: decimal.RequireFromString("1"),
				MaxClaimAmount:  decimal.NewFromInt(100),
			})
			claim = anitaClaim("250.50")
		})

		It("should apply its tolerance and ceiling", func() {
			Expect(verdict.AmountOK).To(BeTrue())
			Expect(verdict.WithinLimit).To(BeFalse())
		})
	})

	Describe("concurrent validation of the same receipt", func() {
		It("should approve exactly one", func() {
			engine := NewEngine(NewMemoryIndex(), DefaultPolicy())

			const workers = 16
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				approved int
			)
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					<-start
					v, err := engine.Validate(anitaClaim("250.00"), restaurantFields("250.00"), restaurantReceipt)
					Expect(err).NotTo(HaveOccurred())
					if v.Approved {
						mu.Lock()
						approved++
						mu.Unlock()
					}
				}()
			}
			close(start)
			wg.Wait()

			Expect(approved).To(Equal(1))
		})
	})
})

var _ = Describe("Composer", func() {
	var composer Composer

	BeforeEach(func() {
		composer = Composer{CurrencySymbol: "₹"}
	})

	It("should compose an approval", func() {
		msg := composer.Compose(anitaClaim("250"), Verdict{Approved: true})
		Expect(msg).To(Equal("Expense claim for Anita Singh on 2025-08-09 (₹250.00) has been approved."))
	})

	It("should compose a discrepancy with the explanation", func() {
		msg := composer.Compose(anitaClaim("300"), Verdict{Explanation: "receipt amount 250.00 does not match claimed amount 300.00"})
		Expect(msg).To(Equal("Discrepancy detected in claim for Anita Singh on 2025-08-09. Details: receipt amount 250.00 does not match claimed amount 300.00."))
	})

	It("should fill in missing claim details", func() {
		msg := composer.Compose(Claim{}, Verdict{})
		Expect(msg).To(Equal("Discrepancy detected in claim for unknown employee on unknown date. Details: no details available."))
	})

	It("should address approvals to the employee and discrepancies to finance", func() {
		Expect(AudienceFor(Verdict{Approved: true})).To(Equal(notify.AudienceEmployee))
		Expect(AudienceFor(Verdict{})).To(Equal(notify.AudienceFinance))
	})
})
