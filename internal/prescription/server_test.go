package prescription

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/rx-tracker/internal/catalog"
	"github.com/zombor/rx-tracker/internal/recognition"
	"github.com/zombor/rx-tracker/internal/scanning"
)

func multipartUpload(filename, contentType string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())

	return body, writer.FormDataContentType()
}

func base64Credentials(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

func decodeBody(resp *http.Response, v any) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(body, v)).To(Succeed(), string(body))
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		ledger      *Ledger
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`^/`), server.ServeHTTP)
		}
	}

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if auth.Username != "" {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	upload := func(path, filename, contentType string, data []byte) *http.Response {
		body, formType := multipartUpload(filename, contentType, data)
		return do(http.MethodPost, path, body, formType)
	}

	BeforeEach(func() {
		kb, err := catalog.Default()
		Expect(err).NotTo(HaveOccurred())

		db = newMockDB()
		ledger = NewLedger(db)
		extractor := &mockExtractor{
			result:   &recognition.Result{Text: "Rx: Amoxicillin 500mg twice daily", Confidence: 91},
			progress: []float64{0.5, 1},
		}
		analyzer := &mockAnalyzer{
			analysis: &scanning.Analysis{
				Medicines: []scanning.Candidate{
					{Name: "Amoxicillin", Dosage: "500mg", Frequency: "twice daily", Confidence: 85},
				},
				Confidence: 0.85,
				Provider:   scanning.GeminiName,
			},
		}
		service = NewServiceWithDeps(ledger, extractor, analyzer, kb, &mockIDGenerator{}, &mockTimeSource{now: startTime})
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("POST /api/prescriptions", func() {
		When("the upload is a valid image", func() {
			It("should return the committed result", func() {
				resp := upload("/api/prescriptions", "rx.png", "image/png", pngBytes())
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var result Result
				decodeBody(resp, &result)
				Expect(result.ID).To(Equal("id-1"))
				Expect(result.Status).To(Equal(StatusPending))
				Expect(result.Medicines).To(HaveLen(1))
				Expect(result.Medicines[0].MedicineID).To(Equal("1"))
				Expect(result.ProviderUsed).To(Equal(scanning.GeminiName))
			})
		})

		When("the content type is missing", func() {
			It("should use the file extension", func() {
				resp := upload("/api/prescriptions", "rx.png", "application/octet-stream", pngBytes())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			})
		})

		When("the upload is not an image", func() {
			It("should return status Unsupported Media Type", func() {
				resp := upload("/api/prescriptions", "notes.txt", "text/plain", []byte("hello"))
				Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))

				var body map[string]string
				decodeBody(resp, &body)
				Expect(body["error"]).To(ContainSubstring("not an image type"))
			})
		})

		When("the image is corrupt", func() {
			It("should ask for a clearer image", func() {
				resp := upload("/api/prescriptions", "rx.jpg", "image/jpeg", []byte("garbage"))
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				var body map[string]string
				decodeBody(resp, &body)
				Expect(body["error"]).To(ContainSubstring("clearer image"))
			})

			It("should not commit anything", func() {
				resp := upload("/api/prescriptions", "rx.jpg", "image/jpeg", []byte("garbage"))
				resp.Body.Close()
				Expect(db.results).To(BeEmpty())
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.WriteField("note", "nothing here")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp := do(http.MethodPost, "/api/prescriptions", body, writer.FormDataContentType())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("jobs", func() {
		When("an image is submitted", func() {
			It("should accept it and report progress until done", func() {
				resp := upload("/api/jobs", "rx.png", "image/png", pngBytes())
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				var accepted map[string]string
				decodeBody(resp, &accepted)
				id := accepted["id"]
				Expect(id).NotTo(BeEmpty())

				var status JobStatus
				Eventually(func() JobState {
					resp := do(http.MethodGet, "/api/jobs/"+id, nil, "")
					Expect(resp.StatusCode).To(Equal(http.StatusOK))
					decodeBody(resp, &status)
					return status.State
				}).Should(Equal(JobSucceeded))
				Expect(status.Progress).To(Equal(100))
				Expect(status.Result.ID).To(Equal(id))

				resp = do(http.MethodGet, "/api/jobs/"+id, nil, "")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("a non-image is submitted", func() {
			It("should reject it", func() {
				resp := upload("/api/jobs", "rx.pdf", "application/pdf", []byte("%PDF"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
			})
		})

		When("the job is unknown", func() {
			It("should return status Not Found", func() {
				resp := do(http.MethodGet, "/api/jobs/missing", nil, "")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})

			It("should not cancel anything", func() {
				resp := do(http.MethodDelete, "/api/jobs/missing", nil, "")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		Describe("events", func() {
			readEvents := func(id string) string {
				resp := do(http.MethodGet, "/api/jobs/"+id+"/events", nil, "")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				return string(body)
			}

			It("should stream progress and the result", func() {
				job, err := service.Submit(pngUpload())
				Expect(err).NotTo(HaveOccurred())

				events := readEvents(job.ID)
				Expect(events).To(ContainSubstring("event: progress\ndata: 100\n\n"))
				Expect(events).To(ContainSubstring("event: result\n"))
				Expect(events).To(ContainSubstring(`"id":"` + job.ID + `"`))
			})

			It("should stream a retryable error for a corrupt image", func() {
				src := pngUpload()
				src.Data = []byte("corrupt")
				job, err := service.Submit(src)
				Expect(err).NotTo(HaveOccurred())

				events := readEvents(job.ID)
				Expect(events).To(ContainSubstring("event: error\n"))
				Expect(events).To(ContainSubstring(`"retryable":true`))
			})
		})
	})

	Describe("results", func() {
		BeforeEach(func() {
			Expect(ledger.Commit(newResult("r1", startTime, 80))).To(Succeed())
			Expect(ledger.Commit(newResult("r2", startTime.Add(1), 90))).To(Succeed())
		})

		It("should list results newest first", func() {
			resp := do(http.MethodGet, "/api/results", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var results []*Result
			decodeBody(resp, &results)
			Expect(results).To(HaveLen(2))
			Expect(results[0].ID).To(Equal("r2"))
		})

		It("should return a single result", func() {
			resp := do(http.MethodGet, "/api/results/r1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var result Result
			decodeBody(resp, &result)
			Expect(result.FileName).To(Equal("r1.jpg"))
		})

		It("should return status Not Found for an unknown result", func() {
			resp := do(http.MethodGet, "/api/results/missing", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			var body map[string]string
			decodeBody(resp, &body)
			Expect(body["error"]).To(Equal("Result not found"))
		})

		It("should verify a pending result once", func() {
			resp := do(http.MethodPost, "/api/results/r1/verify", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var result Result
			decodeBody(resp, &result)
			Expect(result.Status).To(Equal(StatusVerified))

			resp = do(http.MethodPost, "/api/results/r1/verify", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should reject a pending result", func() {
			resp := do(http.MethodPost, "/api/results/r2/reject", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var result Result
			decodeBody(resp, &result)
			Expect(result.Status).To(Equal(StatusRejected))
		})

		It("should delete a result", func() {
			resp := do(http.MethodDelete, "/api/results/r1", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = do(http.MethodDelete, "/api/results/r1", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should summarize the history", func() {
			_, err := ledger.Verify("r1")
			Expect(err).NotTo(HaveOccurred())

			resp := do(http.MethodGet, "/api/stats", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var stats Stats
			decodeBody(resp, &stats)
			Expect(stats).To(Equal(Stats{Total: 2, Pending: 1, Verified: 1, AverageConfidence: 85}))
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = fmt.Errorf("bucket missing")
			})

			It("should hide the cause", func() {
				resp := do(http.MethodGet, "/api/results", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				var body map[string]string
				decodeBody(resp, &body)
				Expect(body["error"]).To(Equal("Internal server error"))
			})
		})
	})

	Describe("catalog", func() {
		It("should search medicines", func() {
			resp := do(http.MethodGet, "/api/medicines?q=amoxi", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var medicines []catalog.Medicine
			decodeBody(resp, &medicines)
			Expect(medicines).To(HaveLen(1))
			Expect(medicines[0].Name).To(Equal("Amoxicillin"))
		})

		It("should return an empty list when nothing matches", func() {
			resp := do(http.MethodGet, "/api/medicines?q=zorblax", nil, "")
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("[]\n"))
		})

		It("should look up a medicine by alias", func() {
			resp := do(http.MethodGet, "/api/medicines/Tylenol", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var medicine catalog.Medicine
			decodeBody(resp, &medicine)
			Expect(medicine.Name).To(Equal("Paracetamol"))
		})

		It("should return status Not Found for an unknown medicine", func() {
			resp := do(http.MethodGet, "/api/medicines/Zorblax", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should list categories", func() {
			resp := do(http.MethodGet, "/api/categories", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var categories []string
			decodeBody(resp, &categories)
			Expect(categories).To(ContainElement("Antibiotic"))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "pharmacist", Password: "secret"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/results")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Rx Tracker"))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/results", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64Credentials("pharmacist", "wrong"))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should reject other authorization schemes", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/results", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Bearer "+base64Credentials("pharmacist", "secret"))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			resp := do(http.MethodGet, "/api/results", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do(http.MethodOptions, "/api/prescriptions", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})
})
