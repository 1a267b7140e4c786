package verification

import (
	"bytes"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

var _ = Describe("Fingerprint", func() {
	It("is stable for identical content", func() {
		a, err := Fingerprint(bytes.NewReader([]byte("screenshot")))
		Expect(err).NotTo(HaveOccurred())
		b, err := Fingerprint(bytes.NewReader([]byte("screenshot")))
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(Equal(b))
	})

	It("changes when a single byte changes", func() {
		a, _ := Fingerprint(bytes.NewReader([]byte("screenshot")))
		b, _ := Fingerprint(bytes.NewReader([]byte("screenshoT")))
		Expect(a).NotTo(Equal(b))
	})

	It("is 64 lower-case hex characters", func() {
		h, err := Fingerprint(bytes.NewReader(nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(h).To(Equal("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
		Expect(h).To(MatchRegexp(`^[0-9a-f]{64}$`))
	})

	It("returns read errors", func() {
		_, err := Fingerprint(errReader{err: errors.New("disk gone")})
		Expect(err).To(MatchError(ContainSubstring("disk gone")))
	})
})
