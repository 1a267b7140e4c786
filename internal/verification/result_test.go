package verification

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Result", func() {
	DescribeTable("TransactionID",
		func(ids []string, expected string) {
			r := Result{Details: Details{TransactionIDs: ids}}
			Expect(r.TransactionID()).To(Equal(expected))
		},
		Entry("no ids", nil, ""),
		Entry("single numeric id", []string{"123456789012"}, "123456789012"),
		Entry("banner word ahead of the UTR", []string{"SUCCESSFUL", "123456789012"}, "123456789012"),
		Entry("alphanumeric id", []string{"T2505121234ABCD"}, "T2505121234ABCD"),
		Entry("only words", []string{"SUCCESSFUL", "TRANSACTION"}, ""),
	)

	It("keeps every extracted id in the details", func() {
		details := NewParser(400).Parse("PAYMENT SUCCESSFUL\n₹400 via GPay\nUTR 123456789012")
		Expect(details.TransactionIDs).To(Equal([]string{"SUCCESSFUL", "123456789012"}))
		Expect(Result{Details: details}.TransactionID()).To(Equal("123456789012"))
	})
})
