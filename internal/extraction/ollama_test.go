package extraction

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		ollama *Ollama
		text   string
		err    error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		ollama, err = NewOllama(server.URL(), "llava")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		text, err = ollama.ExtractText(context.Background(), []byte("png bytes"), "image/png")
	})

	When("the model transcribes the receipt", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				ghttp.VerifyJSON(`{
					"model": "llava",
					"stream": false,
					"messages": [
						{"role": "system", "content": "You are an expert at reading receipts and invoices. You transcribe printed text exactly."},
						{"role": "user", "content": `+jsonString(transcribePrompt)+`, "images": ["cG5nIGJ5dGVz"]}
					]
				}`),
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: "```\nMaarhaba Restaurant\nTotal ₹250.00\n```"},
					Done:    true,
				}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the transcription without the code fence", func() {
			Expect(text).To(Equal("Maarhaba Restaurant\nTotal ₹250.00"))
		})
	})

	When("the model returns nothing", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{Done: true}))
		})

		It("returns ErrNoText", func() {
			Expect(err).To(MatchError(ErrNoText))
		})
	})

	When("the API returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns the status and body", func() {
			Expect(err).To(MatchError(ContainSubstring("status 500")))
			Expect(err).To(MatchError(ContainSubstring("model not loaded")))
		})
	})
})

var _ = Describe("NewOllama", func() {
	It("should default the URL and model", func() {
		o, err := NewOllama("", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(o.baseURL).To(Equal("http://localhost:11434"))
		Expect(o.model).To(Equal("llava"))
	})
})
