package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"receiptsnap/internal/imaging"
	"receiptsnap/internal/notion"
	"receiptsnap/internal/scanning"
)

// mockScanner is a mock implementation of scanning.Scanner
type mockScanner struct {
	text    string
	scanErr error
}

func (m *mockScanner) Recognize(imageData []byte, contentType string) (string, error) {
	if m.scanErr != nil {
		return "", m.scanErr
	}
	return m.text, nil
}

func (m *mockScanner) Close() error {
	return nil
}

var _ = Describe("Server", func() {
	var (
		store       *mockStore
		journal     *mockJournal
		scanner     *mockScanner
		apiKey      string
		server      *Server
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		// A typed nil in the interface would defeat the server's nil
		// check, so only assign when a scanner is present.
		var sc scanning.Scanner
		if scanner != nil {
			sc = scanner
		}
		server = NewServerWithMux(NewService(store, journal), sc, apiKey, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)
	}

	BeforeEach(func() {
		store = newMockStore()
		journal = &mockJournal{}
		scanner = &mockScanner{}
		apiKey = ""
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	// multipartBody builds a form with a file part and optional text fields
	multipartBody := func(filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(content)
		Expect(err).NotTo(HaveOccurred())
		for k, v := range fields {
			Expect(writer.WriteField(k, v)).To(Succeed())
		}
		Expect(writer.Close()).To(Succeed())
		return body, writer.FormDataContentType()
	}

	postReceipt := func(path, filename string, content []byte, fields map[string]string, headers map[string]string) *http.Response {
		body, contentType := multipartBody(filename, content, fields)
		req, err := http.NewRequest("POST", ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", contentType)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("handleSubmit", func() {
		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.WriteField("merchant", "SUPER MARKET AS")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/receipts", body)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Content-Type", writer.FormDataContentType())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the submission succeeds", func() {
			var resp *http.Response

			BeforeEach(func() {
				resp = postReceipt("/api/receipts", "receipt.jpg", []byte("jpeg bytes"), map[string]string{
					"amount":   "129,95",
					"merchant": "SUPER MARKET AS",
					"date":     "2024-01-15",
				}, nil)
			})

			AfterEach(func() {
				resp.Body.Close()
			})

			It("should return status Created", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			})

			It("should return the submission as JSON", func() {
				var sub Submission
				Expect(json.NewDecoder(resp.Body).Decode(&sub)).To(Succeed())
				Expect(sub.Title).To(Equal("Receipt 2024-01-15"))
				Expect(sub.Attached).To(BeTrue())
				Expect(sub.Amount).To(HaveValue(Equal(129.95)))
			})

			It("should create a record referencing the upload", func() {
				Expect(store.records).To(HaveLen(1))
				Expect(store.records[0].FileUploadID).To(Equal("upload-1"))
			})
		})

		When("the file exceeds the upload ceiling", func() {
			var resp *http.Response

			BeforeEach(func() {
				resp = postReceipt("/api/receipts", "huge.jpg", make([]byte, imaging.MaxUploadBytes+1), nil, nil)
			})

			AfterEach(func() {
				resp.Body.Close()
			})

			It("should return status Request Entity Too Large", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
			})

			It("should not call the document store", func() {
				Expect(store.createUploadCalls).To(BeEmpty())
				Expect(store.records).To(BeEmpty())
			})
		})

		When("the document store rejects the record", func() {
			var resp *http.Response

			BeforeEach(func() {
				store.createRecordErr = &notion.APIError{
					StatusCode: http.StatusBadRequest,
					Body:       `{"message":"Amount is not a property that exists"}`,
				}
				setupServer()
				resp = postReceipt("/api/receipts", "receipt.jpg", []byte("jpeg bytes"), nil, nil)
			})

			AfterEach(func() {
				resp.Body.Close()
			})

			It("should pass the upstream status code through", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})

			It("should pass the upstream body through unchanged", func() {
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal(`{"message":"Amount is not a property that exists"}`))
			})
		})

		When("the same form is submitted twice", func() {
			It("should create two distinct records", func() {
				resp1 := postReceipt("/api/receipts", "receipt.jpg", []byte("jpeg bytes"), nil, nil)
				resp1.Body.Close()
				resp2 := postReceipt("/api/receipts", "receipt.jpg", []byte("jpeg bytes"), nil, nil)
				resp2.Body.Close()
				Expect(store.records).To(HaveLen(2))
				Expect(journal.entries).To(HaveLen(2))
				Expect(journal.entries[0].ID).NotTo(Equal(journal.entries[1].ID))
			})
		})
	})

	Describe("API key authentication", func() {
		BeforeEach(func() {
			apiKey = "hunter2"
			setupServer()
		})

		When("the key header is missing", func() {
			It("should return status Unauthorized", func() {
				resp := postReceipt("/api/receipts", "receipt.jpg", []byte("jpeg bytes"), nil, nil)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		When("the key header is wrong", func() {
			It("should return status Unauthorized", func() {
				resp := postReceipt("/api/receipts", "receipt.jpg", []byte("jpeg bytes"), nil,
					map[string]string{"x-api-key": "wrong"})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		When("the key header matches", func() {
			It("should accept the request", func() {
				resp := postReceipt("/api/receipts", "receipt.jpg", []byte("jpeg bytes"), nil,
					map[string]string{"x-api-key": "hunter2"})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			})
		})

		When("no key is configured", func() {
			BeforeEach(func() {
				apiKey = ""
				setupServer()
			})

			It("should accept requests without the header", func() {
				resp := postReceipt("/api/receipts", "receipt.jpg", []byte("jpeg bytes"), nil, nil)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			})
		})
	})

	Describe("handleScan", func() {
		When("no scanner is configured", func() {
			BeforeEach(func() {
				scanner = nil
				setupServer()
			})

			It("should return status Service Unavailable", func() {
				resp := postReceipt("/api/receipts/scan", "receipt.jpg", []byte("jpeg bytes"), nil, nil)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			})
		})

		When("the scanner recognizes text", func() {
			var resp *http.Response

			BeforeEach(func() {
				scanner.text = "KVITTERING\nSUPER MARKET AS\nSubtotal 100,00\nTotal 129,95"
				resp = postReceipt("/api/receipts/scan", "receipt.jpg", []byte("jpeg bytes"), nil, nil)
			})

			AfterEach(func() {
				resp.Body.Close()
			})

			It("should return status OK", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})

			It("should return text and the heuristic guesses", func() {
				var result ScanResult
				Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
				Expect(result.Text).To(Equal(scanner.text))
				Expect(result.Amount).To(HaveValue(Equal(129.95)))
				Expect(result.Merchant).To(Equal("SUPER MARKET AS"))
			})
		})

		When("the scanner fails", func() {
			BeforeEach(func() {
				scanner.scanErr = errors.New("model overloaded")
				setupServer()
			})

			It("should return status Bad Gateway", func() {
				resp := postReceipt("/api/receipts/scan", "receipt.jpg", []byte("jpeg bytes"), nil, nil)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.WriteField("notes", "x")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/receipts/scan", body)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Content-Type", writer.FormDataContentType())
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleListSubmissions", func() {
		When("submissions exist", func() {
			BeforeEach(func() {
				journal.entries = []*Submission{
					{ID: "id1", Title: "Receipt 2024-01-15"},
					{ID: "id2", Title: "Receipt 2024-01-16"},
				}
				setupServer()
			})

			It("should return all submissions", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/submissions")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var subs []*Submission
				Expect(json.NewDecoder(resp.Body).Decode(&subs)).To(Succeed())
				Expect(subs).To(HaveLen(2))
			})
		})

		When("no submissions exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/submissions")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(MatchJSON("[]"))
			})
		})
	})

	Describe("handleHealth", func() {
		It("should return status OK without authentication", func() {
			apiKey = "hunter2"
			setupServer()

			resp, err := http.Get(ghttpServer.URL() + "/api/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
