package registration

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("FirestoreDB", func() {
	var db *FirestoreDB

	AfterEach(func() {
		if db != nil {
			db.Close()
			db = nil
		}
	})

	It("should require a project id", func() {
		_, err := NewFirestoreDB(context.Background(), "")
		Expect(err).To(MatchError(ContainSubstring("projectID must be provided")))
	})

	Context("against the emulator", func() {
		itBehavesLikeAStore(func() DB {
			if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
				Skip("FIRESTORE_EMULATOR_HOST not set")
			}
			var err error
			db, err = NewFirestoreDB(context.Background(), "sinova-test")
			Expect(err).NotTo(HaveOccurred())
			return db
		})
	})
})
