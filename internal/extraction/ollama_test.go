package extraction

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

func drain(progress chan int) []int {
	var values []int
	for {
		select {
		case p := <-progress:
			values = append(values, p)
		default:
			return values
		}
	}
}

var _ = Describe("Ollama", func() {
	var (
		server    *ghttp.Server
		extractor *Ollama
		progress  chan int
		imageData []byte
		text      string
		err       error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		progress = make(chan int, 32)
		imageData = pngBytes()
		extractor, err = NewOllama(server.URL()+"/", "llava")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		text, err = extractor.ExtractText(context.Background(), imageData, "image/png", progress)
	})

	When("the model streams a transcript", func() {
		BeforeEach(func() {
			stream := `{"message":{"role":"assistant","content":"₹400 paid"},"done":false}` + "\n" +
				`{"message":{"role":"assistant","content":" via GPay"},"done":false}` + "\n" +
				`{"message":{"role":"assistant","content":""},"done":true}` + "\n"

			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					body, readErr := io.ReadAll(r.Body)
					Expect(readErr).NotTo(HaveOccurred())
					var req ollamaChatRequest
					Expect(json.Unmarshal(body, &req)).To(Succeed())
					Expect(req.Model).To(Equal("llava"))
					Expect(req.Stream).To(BeTrue())
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Images).To(HaveLen(1))
				},
				ghttp.RespondWith(http.StatusOK, stream),
			))
		})

		It("joins the streamed chunks", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("₹400 paid via GPay"))
		})

		It("reports monotonic progress ending at 100", func() {
			values := drain(progress)
			Expect(values).NotTo(BeEmpty())
			for i := 1; i < len(values); i++ {
				Expect(values[i]).To(BeNumerically(">=", values[i-1]))
			}
			Expect(values[len(values)-1]).To(Equal(100))
		})
	})

	When("the API returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, `{"error":"model not found"}`))
		})

		It("returns the status and body", func() {
			Expect(err).To(MatchError(ContainSubstring("status 404")))
			Expect(err).To(MatchError(ContainSubstring("model not found")))
		})
	})

	When("the stream reports an error", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"error":"out of memory"}`+"\n"))
		})

		It("returns it", func() {
			Expect(err).To(MatchError(ContainSubstring("out of memory")))
		})
	})

	When("the stream ends early", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"message":{"content":"₹4"},"done":false}`+"\n"))
		})

		It("returns an error", func() {
			Expect(err).To(MatchError(ContainSubstring("ended before completion")))
		})
	})

	When("the image cannot be decoded", func() {
		BeforeEach(func() {
			imageData = []byte("garbage")
		})

		It("fails before calling the API", func() {
			Expect(err).To(HaveOccurred())
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})
