package verification

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Parser", func() {
	var (
		parser  *Parser
		text    string
		details Details
	)

	BeforeEach(func() {
		parser = NewParser(DefaultFee)
	})

	JustBeforeEach(func() {
		details = parser.Parse(text)
	})

	When("parsing a complete GPay confirmation", func() {
		BeforeEach(func() {
			text = "₹400 payment successful via GPay, UTR 123456789012"
		})

		It("finds the amount", func() {
			Expect(details.AmountFound).To(BeTrue())
		})

		It("finds the success status", func() {
			Expect(details.SuccessStatus).To(BeTrue())
		})

		It("detects the UPI app", func() {
			Expect(details.UPIAppDetected).To(BeTrue())
		})

		It("collapses the UTR and digit-run matches into one id", func() {
			Expect(details.TransactionIDs).To(Equal([]string{"123456789012"}))
		})
	})

	When("parsing text with no payment signals", func() {
		BeforeEach(func() {
			text = "hello world, nothing to see here"
		})

		It("returns all-false details", func() {
			Expect(details.AmountFound).To(BeFalse())
			Expect(details.SuccessStatus).To(BeFalse())
			Expect(details.UPIAppDetected).To(BeFalse())
			Expect(details.DateFound).To(BeFalse())
		})

		It("returns no transaction ids", func() {
			Expect(details.TransactionIDs).To(BeEmpty())
		})
	})

	When("parsing empty text", func() {
		BeforeEach(func() {
			text = ""
		})

		It("returns an empty, non-nil id list", func() {
			Expect(details.TransactionIDs).NotTo(BeNil())
			Expect(details.TransactionIDs).To(BeEmpty())
		})
	})

	Describe("amount renderings", func() {
		DescribeTable("detecting the entry fee",
			func(input string, expected bool) {
				Expect(parser.Parse(input).AmountFound).To(Equal(expected))
			},
			Entry("rupee symbol", "₹400", true),
			Entry("rupee symbol with space", "₹ 400", true),
			Entry("Rs. form", "Rs.400", true),
			Entry("Rs form without dot", "rs 400", true),
			Entry("decimal form", "Amount 400.00", true),
			Entry("slash-dash form", "400/-", true),
			Entry("upper case", "RS. 400", true),
			Entry("larger amount with symbol", "₹4000", false),
			Entry("larger decimal amount", "1400.00", false),
			Entry("bare number", "400", false),
		)

		When("the fee is configured differently", func() {
			BeforeEach(func() {
				parser = NewParser(500)
				text = "₹400 paid, ₹500 pending"
			})

			It("looks for the configured fee", func() {
				Expect(details.AmountFound).To(BeTrue())
				Expect(parser.Parse("₹400").AmountFound).To(BeFalse())
			})
		})
	})

	Describe("transaction ids", func() {
		When("more than three candidates appear", func() {
			BeforeEach(func() {
				text = "ref 111111111111 order ABCDEFGHIJ then 222222222222 and 333333333333"
			})

			It("keeps the first three in order of appearance", func() {
				Expect(details.TransactionIDs).To(Equal([]string{"111111111111", "ABCDEFGHIJ", "222222222222"}))
			})
		})

		When("the same id appears twice", func() {
			BeforeEach(func() {
				text = "UTR: 987654321098\nReference 987654321098"
			})

			It("removes the duplicate", func() {
				Expect(details.TransactionIDs).To(Equal([]string{"987654321098"}))
			})
		})

		When("a UTR label precedes a short number", func() {
			BeforeEach(func() {
				text = "utr 12345"
			})

			It("keeps only the digits", func() {
				Expect(details.TransactionIDs).To(Equal([]string{"12345"}))
			})
		})

		When("lower-case alphanumerics appear", func() {
			BeforeEach(func() {
				text = "abcdefghijkl"
			})

			It("ignores them", func() {
				Expect(details.TransactionIDs).To(BeEmpty())
			})
		})

		It("never returns more than three ids", func() {
			d := parser.Parse("AAAAAAAAAA1 BBBBBBBBBB2 CCCCCCCCCC3 DDDDDDDDDD4 EEEEEEEEEE5")
			Expect(len(d.TransactionIDs)).To(BeNumerically("<=", 3))
		})
	})

	Describe("keywords", func() {
		DescribeTable("success wording",
			func(input string, expected bool) {
				Expect(parser.Parse(input).SuccessStatus).To(Equal(expected))
			},
			Entry("success", "Payment Success", true),
			Entry("completed", "transaction completed", true),
			Entry("paid", "Paid to SINOVA", true),
			Entry("sent", "money sent", true),
			Entry("failed", "payment failed", false),
		)

		DescribeTable("UPI providers",
			func(input string, expected bool) {
				Expect(parser.Parse(input).UPIAppDetected).To(Equal(expected))
			},
			Entry("gpay", "GPay", true),
			Entry("google pay", "Google Pay", true),
			Entry("phonepe", "PhonePe", true),
			Entry("paytm", "Paytm", true),
			Entry("bhim", "BHIM", true),
			Entry("upi", "via UPI", true),
			Entry("bank transfer", "NEFT transfer", false),
		)
	})

	Describe("dates", func() {
		DescribeTable("date-like patterns",
			func(input string, expected bool) {
				Expect(parser.Parse(input).DateFound).To(Equal(expected))
			},
			Entry("day/month/year", "12/05/2025", true),
			Entry("short year with dashes", "1-2-25", true),
			Entry("no date", "May twelfth", false),
		)
	})

	When("OCR noise breaks every signal apart", func() {
		BeforeEach(func() {
			text = "~~ R s. 4 0 0 ?? pa1d v1a g-pay"
		})

		It("finds nothing", func() {
			Expect(details.AmountFound).To(BeFalse())
			Expect(details.SuccessStatus).To(BeFalse())
			Expect(details.UPIAppDetected).To(BeFalse())
			Expect(details.DateFound).To(BeFalse())
			Expect(details.TransactionIDs).To(BeEmpty())
		})
	})

	When("text mixes noise with intact signals", func() {
		BeforeEach(func() {
			text = "**₹400** ✔ Payment SUCCESS !!! via PhonePe ### UTR:123456789012 ~~"
		})

		It("finds the intact signals", func() {
			Expect(details.AmountFound).To(BeTrue())
			Expect(details.SuccessStatus).To(BeTrue())
			Expect(details.UPIAppDetected).To(BeTrue())
			Expect(details.DateFound).To(BeFalse())
			Expect(details.TransactionIDs).To(Equal([]string{"123456789012"}))
		})
	})
})
