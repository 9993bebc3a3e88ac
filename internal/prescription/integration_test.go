package prescription

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/rx-tracker/internal/catalog"
	"github.com/zombor/rx-tracker/internal/recognition"
	"github.com/zombor/rx-tracker/internal/scanning"
)

const scannedPrescription = `Dr. Sarah Johnson
Patient: John Smith
Date: 2024-01-15
Rx: Amoxicillin 500mg twice daily for 7 days`

// scriptedRecognizer returns the same text for every image
type scriptedRecognizer struct {
	text string
}

func (s *scriptedRecognizer) Recognize(ctx context.Context, pngData []byte, onProgress recognition.ProgressFunc) (*recognition.Result, error) {
	onProgress(0)
	onProgress(1)
	return &recognition.Result{Text: s.text, Confidence: 62, Words: []recognition.Word{}}, nil
}

func (s *scriptedRecognizer) Close() error {
	return nil
}

var _ = Describe("Integration", func() {
	var (
		db       *BoltDB
		engine   *recognition.Engine
		service  *Service
		server   *Server
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "integration.db"))
		Expect(err).NotTo(HaveOccurred())

		kb, err := catalog.Default()
		Expect(err).NotTo(HaveOccurred())

		engine = recognition.NewEngine(func() (recognition.Recognizer, error) {
			return &scriptedRecognizer{text: scannedPrescription}, nil
		})

		analyzer, err := scanning.NewAnalyzer(scanning.ModePattern, nil, nil, scanning.NewPatternMatcher(kb))
		Expect(err).NotTo(HaveOccurred())

		service = NewService(NewLedger(db), engine, analyzer, kb)
		server = NewServer(service, BasicAuth{})
		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		Expect(engine.Close()).To(Succeed())
		Expect(db.Close()).To(Succeed())
	})

	It("should process an upload, persist it and verify it", func() {
		// one handler per request
		ghServer.AppendHandlers(
			server.ServeHTTP, // process
			server.ServeHTTP, // verify
			server.ServeHTTP, // stats
		)

		// --- Step 1: Process ---

		body, formType := multipartUpload("rx.png", "image/png", pngBytes())
		resp, err := http.Post(ghServer.URL()+"/api/prescriptions", formType, body)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var result Result
		decodeBody(resp, &result)
		Expect(result.Strategy).To(Equal(scanning.PatternName))
		Expect(result.ProviderUsed).To(Equal(scanning.PatternName))
		Expect(result.OverallConfidence).To(Equal(75.0))
		Expect(result.Medicines).To(HaveLen(1))

		medicine := result.Medicines[0]
		Expect(medicine.Name).To(Equal("Amoxicillin"))
		Expect(medicine.Dosage).To(Equal("500mg"))
		Expect(medicine.Frequency).To(Equal("twice daily"))
		Expect(medicine.Duration).To(Equal("7 days"))
		Expect(medicine.Confidence).To(Equal(99.0))
		Expect(medicine.MedicineID).To(Equal("1"))

		// the result is already in the database
		stored, err := db.GetResult(result.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(StatusPending))

		// --- Step 2: Verify ---

		resp, err = http.Post(ghServer.URL()+"/api/results/"+result.ID+"/verify", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		resp.Body.Close()

		stored, err = db.GetResult(result.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(StatusVerified))

		// --- Step 3: Stats ---

		resp, err = http.Get(ghServer.URL() + "/api/stats")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())

		var stats Stats
		Expect(json.Unmarshal(data, &stats)).To(Succeed())
		Expect(stats).To(Equal(Stats{Total: 1, Verified: 1, AverageConfidence: 75}))
	})
})
