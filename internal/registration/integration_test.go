package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/sinova-register/internal/verification"
)

var _ = Describe("Integration", func() {
	var (
		db        *BoltDB
		extractor *mockExtractor
		server    *Server
		ghServer  *ghttp.Server
	)

	BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "sinova.db"))
		Expect(err).NotTo(HaveOccurred())

		extractor = &mockExtractor{text: gpayText}
		service := NewService(db, extractor, Config{Fee: 400, Capacity: 1})
		server = NewServer(service, BasicAuth{}) // No auth for testing convenience

		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if db != nil {
			db.Close()
		}
	})

	upload := func(sessionID string, content []byte) verification.Result {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		Expect(writer.WriteField("session_id", sessionID)).To(Succeed())
		Expect(writer.WriteField("team_name", "Team Rocket")).To(Succeed())
		part, err := writer.CreateFormFile("file", "gpay.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(content)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghServer.URL()+"/api/verify", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var result verification.Result
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(data, &result)).To(Succeed())
		return result
	}

	register := func(sessionID, teamName string) (*http.Response, Team) {
		payload, err := json.Marshal(RegisterRequest{SessionID: sessionID, TeamName: teamName, Members: validMembers()})
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.Post(ghServer.URL()+"/api/teams", "application/json", bytes.NewReader(payload))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var team Team
		if resp.StatusCode == http.StatusCreated {
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(json.Unmarshal(data, &team)).To(Succeed())
		}
		return resp, team
	}

	It("should verify a screenshot, register the team and block reuse", func() {
		ghServer.AppendHandlers(
			server.ServeHTTP, // verify
			server.ServeHTTP, // register
			server.ServeHTTP, // status
			server.ServeHTTP, // verify the same screenshot again
		)

		// --- Step 1: Verify ---
		result := upload("form-1", []byte("fake png bytes"))
		Expect(result.Status).To(Equal(verification.StatusVerified))

		// --- Step 2: Register ---
		resp, team := register("form-1", "Team Rocket")
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		Expect(team.TeamNumber).To(Equal(1))

		stored, err := db.GetTeam(context.Background(), team.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.PaymentHash).To(Equal(result.ImageHash))
		Expect(stored.TransactionID).To(Equal("123456789012"))

		// --- Step 3: Status ---
		statusResp, err := http.Get(ghServer.URL() + "/api/teams/" + team.ID)
		Expect(err).NotTo(HaveOccurred())
		statusResp.Body.Close()
		Expect(statusResp.StatusCode).To(Equal(http.StatusOK))

		// --- Step 4: Reuse ---
		again := upload("form-2", []byte("fake png bytes"))
		Expect(again.Status).To(Equal(verification.StatusRejected))
		Expect(again.Recommendations).To(ConsistOf("This screenshot has already been used by another team."))
	})

	It("should waitlist teams past capacity", func() {
		ghServer.AppendHandlers(
			server.ServeHTTP,
			server.ServeHTTP,
			server.ServeHTTP,
			server.ServeHTTP,
			server.ServeHTTP,
		)

		upload("form-1", []byte("first screenshot"))
		resp, _ := register("form-1", "Team Rocket")
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		extractor.setText(paymentText("987654321098"))
		upload("form-2", []byte("second screenshot"))
		resp, team := register("form-2", "Team Magma")
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		Expect(team.Waitlisted).To(BeTrue())

		slotsResp, err := http.Get(ghServer.URL() + "/api/slots")
		Expect(err).NotTo(HaveOccurred())
		defer slotsResp.Body.Close()
		var slots Slots
		data, err := io.ReadAll(slotsResp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(data, &slots)).To(Succeed())
		Expect(slots).To(Equal(Slots{Capacity: 1, Confirmed: 1, Remaining: 0, WaitlistOnly: true}))
	})
})
