package extraction

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("New", func() {
	It("builds an Ollama extractor", func() {
		e, err := New(context.Background(), Config{Backend: "ollama"})
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Name()).To(Equal("ollama"))
		Expect(e.Close()).To(Succeed())
	})

	It("builds a Yandex extractor", func() {
		e, err := New(context.Background(), Config{Backend: "Yandex", YandexOAuthToken: "t", YandexFolderID: "f"})
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Name()).To(Equal("yandex"))
	})

	It("requires a Gemini API key", func() {
		_, err := New(context.Background(), Config{Backend: "gemini"})
		Expect(err).To(MatchError(ContainSubstring("api key is required")))
	})

	It("requires a Vertex project", func() {
		_, err := New(context.Background(), Config{Backend: "vertex"})
		Expect(err).To(MatchError(ContainSubstring("project is required")))
	})

	It("rejects unknown backends", func() {
		_, err := New(context.Background(), Config{Backend: "tesseract"})
		Expect(err).To(MatchError(ContainSubstring("unknown extractor")))
	})
})

var _ = Describe("progress helpers", func() {
	It("never blocks on a full channel", func() {
		progress := make(chan int, 1)
		reportProgress(progress, 10)
		reportProgress(progress, 20)
		Expect(<-progress).To(Equal(10))
	})

	It("accepts a nil channel", func() {
		Expect(func() { reportProgress(nil, 50) }).NotTo(Panic())
	})

	It("grows with every streamed chunk and stays below completion", func() {
		prev := progressRequested
		for n := 1; n < 200; n++ {
			p := streamProgress(n)
			Expect(p).To(BeNumerically(">=", prev))
			Expect(p).To(BeNumerically("<", progressComplete))
			prev = p
		}
	})
})

var _ = Describe("cleanTranscript", func() {
	It("strips code fences", func() {
		Expect(cleanTranscript("```\n₹400 paid\n```")).To(Equal("₹400 paid"))
	})

	It("detects refusals", func() {
		Expect(refused("I am unable to read this image")).To(BeTrue())
		Expect(refused("₹400 paid")).To(BeFalse())
	})
})
