package broker

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/wxlim/dealbroker/agentclient"
	"github.com/wxlim/dealbroker/config"
	"github.com/wxlim/dealbroker/counterparty"
	"github.com/wxlim/dealbroker/domain"
	"github.com/wxlim/dealbroker/guard"
	"github.com/wxlim/dealbroker/inventory"
	"github.com/wxlim/dealbroker/llm"
	"github.com/wxlim/dealbroker/tests/helpers"
)

type stubConcluder struct {
	conclusion llm.Conclusion
	err        error
}

func (s stubConcluder) Conclude(ctx context.Context, transcript []domain.Message, artifact *domain.Artifact) (llm.Conclusion, error) {
	return s.conclusion, s.err
}

// newTestStack wires real counterparty services with scripted deciders onto
// httptest servers, the same transport the negotiator uses in production.
func newTestStack(t *testing.T, buyerScript, sellerScript []string, concluder Concluder) *Negotiator {
	t.Helper()
	n, _, _ := newTestStackWithMocks(t, buyerScript, sellerScript, concluder)
	return n
}

// newTestStackWithMocks additionally returns the two mock model clients, for
// assertions on the prompts each counterparty received.
func newTestStackWithMocks(t *testing.T, buyerScript, sellerScript []string, concluder Concluder) (*Negotiator, *llm.MockClient, *llm.MockClient) {
	t.Helper()

	g, err := guard.NewEngine(context.Background(), guard.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	missing := t.TempDir() + "/missing.csv"
	buyerMock := llm.NewMockClient(buyerScript...)
	sellerMock := llm.NewMockClient(sellerScript...)
	buyerDecider := llm.NewDecider(buyerMock, "test-model", 0.2, 512)
	sellerDecider := llm.NewDecider(sellerMock, "test-model", 0.2, 512)

	buyerSvc := counterparty.NewService("buyer", counterparty.NewBuyerPolicy(buyerDecider, inventory.NewBuyerBook(missing)), g)
	sellerSvc := counterparty.NewService("seller", counterparty.NewSellerPolicy(sellerDecider, inventory.NewSellerBook(missing)), g)

	buyerSrv := httptest.NewServer(newCounterpartyEcho(buyerSvc))
	sellerSrv := httptest.NewServer(newCounterpartyEcho(sellerSvc))
	t.Cleanup(func() {
		buyerSrv.Close()
		sellerSrv.Close()
	})

	cfg := &config.Config{
		BuyerURL:  buyerSrv.URL,
		SellerURL: sellerSrv.URL,
	}
	agents := agentclient.NewClient(5*time.Second, time.Second)
	st := helpers.NewTestSQLiteStore(t)

	return NewNegotiator(cfg, agents, concluder, st, NewRegistry()), buyerMock, sellerMock
}

func newCounterpartyEcho(svc *counterparty.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	counterparty.NewHandler(svc).RegisterRoutes(e)
	return e
}

func TestNegotiationReachesAgreement(t *testing.T) {
	buyerScript := []string{
		// Opening offer is above the acceptance band; counter well below it.
		`{"action":"counter","price":1750,"rationale":"too high la","transcript_response":"Boss, 1750 can?"}`,
	}
	sellerScript := []string{
		// Opening quote at list price.
		`{"action":"counter","price":1999,"rationale":"list price","transcript_response":"Fresh stock boss."}`,
		// Second reply goes below floor; the counterparty clamps it to 1799.10,
		// which lands inside the buyer's acceptance band.
		`{"action":"counter","price":1700,"rationale":"meet halfway","transcript_response":"Best I can do."}`,
	}
	concluder := stubConcluder{conclusion: llm.Conclusion{
		Content:            "Agreement at $1799.10, proceed with paperwork.",
		Rationale:          "Valid artifact present.",
		TranscriptResponse: "Settle already lah.",
	}}

	n := newTestStack(t, buyerScript, sellerScript, concluder)
	sess := n.Start(context.Background())

	snap := sess.Snapshot()
	if snap.Status != domain.SessionStatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if snap.Artifact == nil {
		t.Fatalf("expected artifact, transcript: %+v", snap.Transcript)
	}
	if snap.Artifact.Data.UnitPrice != 1799.10 {
		t.Fatalf("unexpected unit price: %v", snap.Artifact.Data.UnitPrice)
	}
	if snap.Artifact.Data.Total != 35982.00 {
		t.Fatalf("unexpected total: %v", snap.Artifact.Data.Total)
	}
	if snap.Artifact.Data.Quantity != DefaultQuantity || snap.Artifact.Data.Currency != Currency {
		t.Fatalf("unexpected artifact data: %+v", snap.Artifact.Data)
	}

	last := snap.Transcript[len(snap.Transcript)-1]
	if last.Role != brokerRole || !strings.Contains(last.Content, "paperwork") {
		t.Fatalf("expected conclusion as final message, got %+v", last)
	}

	// The persisted copy matches the live one.
	stored, err := n.store.GetSnapshot(context.Background(), snap.SessionID)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if stored == nil || stored.Status != domain.SessionStatusCompleted {
		t.Fatalf("unexpected stored snapshot: %+v", stored)
	}
	if len(stored.Transcript) != len(snap.Transcript) {
		t.Fatalf("stored transcript has %d messages, live has %d", len(stored.Transcript), len(snap.Transcript))
	}
	if stored.Artifact == nil || stored.Artifact.Data.UnitPrice != 1799.10 {
		t.Fatalf("unexpected stored artifact: %+v", stored.Artifact)
	}
}

func TestNegotiationTransportFailureIsTerminal(t *testing.T) {
	n := newTestStack(t, nil, nil, stubConcluder{})

	// Kill the buyer endpoint; the first buyer call must end the session.
	n.cfg.BuyerURL = "http://127.0.0.1:1"

	sess := n.Start(context.Background())

	snap := sess.Snapshot()
	if snap.Status != domain.SessionStatusError {
		t.Fatalf("expected error status, got %s", snap.Status)
	}
	if snap.Artifact != nil {
		t.Fatalf("no artifact expected on failure")
	}

	var failures int
	for _, m := range snap.Transcript {
		if m.Role == brokerRole && strings.Contains(m.Content, "Cannot proceed") {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one failure message, got %d: %+v", failures, snap.Transcript)
	}
	last := snap.Transcript[len(snap.Transcript)-1]
	if !strings.Contains(last.Content, "did not respond in time") {
		t.Fatalf("failure message must be last, got %+v", last)
	}

	stored, err := n.store.GetSnapshot(context.Background(), snap.SessionID)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if stored == nil || stored.Status != domain.SessionStatusError {
		t.Fatalf("expected persisted error status, got %+v", stored)
	}
}

func TestNegotiationTurnLimitCutoff(t *testing.T) {
	// Neither side ever moves into acceptance range: the buyer counters at
	// 1700 (nudged on repeats), the seller holds 1899, above the band around
	// the 1789 target.
	buyerScript := []string{
		`{"action":"counter","price":1700,"rationale":"still high","transcript_response":"Cannot la boss."}`,
	}
	sellerScript := []string{
		`{"action":"counter","price":1899,"rationale":"firm","transcript_response":"This one best price already."}`,
	}

	n := newTestStack(t, buyerScript, sellerScript, stubConcluder{})
	n.cfg.TurnLimit = 2
	sess := n.Start(context.Background())

	snap := sess.Snapshot()
	if snap.Status != domain.SessionStatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if snap.Artifact != nil {
		t.Fatalf("no artifact expected at cutoff, got %+v", snap.Artifact)
	}

	last := snap.Transcript[len(snap.Transcript)-1]
	if last.Role != brokerRole || !strings.Contains(last.Content, "turn limit reached") {
		t.Fatalf("expected cutoff as final message, got %+v", last)
	}

	// Seed + opening + two buyer/seller exchanges + cutoff.
	want := 2 + 2*2 + 1
	if len(snap.Transcript) != want {
		t.Fatalf("expected %d transcript messages, got %d", want, len(snap.Transcript))
	}
}

func TestUnparseableOpeningQuoteFallsBack(t *testing.T) {
	// The seller opens with a reject, whose reply text carries no price; the
	// broker must substitute the fixed fallback quote rather than abort.
	buyerScript := []string{
		`{"action":"counter","price":1750,"rationale":"r","transcript_response":"t"}`,
	}
	sellerScript := []string{
		`{"action":"reject","rationale":"cannot serve","transcript_response":"cannot la"}`,
	}

	n, buyerMock, _ := newTestStackWithMocks(t, buyerScript, sellerScript, stubConcluder{})
	n.cfg.TurnLimit = 1
	sess := n.Start(context.Background())

	if sess.Status() != domain.SessionStatusCompleted {
		t.Fatalf("expected completed, got %s", sess.Status())
	}
	if len(buyerMock.Requests) == 0 {
		t.Fatalf("buyer model was never consulted")
	}
	prompt := buyerMock.Requests[0].Messages[1].Content
	if !strings.Contains(prompt, "Seller offer: $1900.00") {
		t.Fatalf("expected fallback opening quote in buyer prompt, got %q", prompt)
	}
}

func TestPricelessBuyerReplyFallsBackToDecrement(t *testing.T) {
	// The buyer rejects without naming a number; the broker synthesizes the
	// counter as current price minus the fixed decrement.
	buyerScript := []string{
		`{"action":"reject","rationale":"no budget","transcript_response":"cannot la"}`,
	}
	sellerScript := []string{
		`{"action":"counter","price":1999,"rationale":"list","transcript_response":"fresh stock"}`,
	}

	n, _, sellerMock := newTestStackWithMocks(t, buyerScript, sellerScript, stubConcluder{})
	n.cfg.TurnLimit = 1
	sess := n.Start(context.Background())

	if sess.Status() != domain.SessionStatusCompleted {
		t.Fatalf("expected completed, got %s", sess.Status())
	}
	if len(sellerMock.Requests) < 2 {
		t.Fatalf("expected opening plus one counter call, got %d", len(sellerMock.Requests))
	}
	prompt := sellerMock.Requests[1].Messages[1].Content
	if !strings.Contains(prompt, "Buyer counter: $1989.00") {
		t.Fatalf("expected synthesized counter of 1999-10 in seller prompt, got %q", prompt)
	}
}

func TestNegotiationOpeningQuoteFailureIsTerminal(t *testing.T) {
	n := newTestStack(t, nil, nil, stubConcluder{})

	// Seller that registers tasks but fails every message exchange: the
	// opening quote request is the first call that can die mid-session.
	e := echo.New()
	e.HideBanner = true
	e.POST("/a2a/task", func(c echo.Context) error {
		return c.JSON(200, domain.CreateTaskResponse{TaskID: "task_dead0000"})
	})
	e.POST("/a2a/message", func(c echo.Context) error {
		return c.JSON(500, map[string]string{"error": "unavailable"})
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	n.cfg.SellerURL = srv.URL

	sess := n.Start(context.Background())

	snap := sess.Snapshot()
	if snap.Status != domain.SessionStatusError {
		t.Fatalf("expected error status, got %s", snap.Status)
	}
	var failures int
	for _, m := range snap.Transcript {
		if m.Role == brokerRole && strings.Contains(m.Content, "Cannot proceed") {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one failure message, got %d", failures)
	}
	if !strings.Contains(snap.Transcript[len(snap.Transcript)-1].Content, "Kumar") {
		t.Fatalf("failure message should name the seller: %+v", snap.Transcript[len(snap.Transcript)-1])
	}
}

func TestNegotiationConclusionFallback(t *testing.T) {
	buyerScript := []string{
		`{"action":"counter","price":1750,"rationale":"r","transcript_response":"t"}`,
	}
	sellerScript := []string{
		`{"action":"counter","price":1999,"rationale":"r","transcript_response":"t"}`,
		`{"action":"counter","price":1799.10,"rationale":"r","transcript_response":"t"}`,
	}
	n := newTestStack(t, buyerScript, sellerScript, stubConcluder{err: context.DeadlineExceeded})

	sess := n.Start(context.Background())
	snap := sess.Snapshot()
	if snap.Artifact == nil {
		t.Fatalf("expected artifact, transcript: %+v", snap.Transcript)
	}

	last := snap.Transcript[len(snap.Transcript)-1]
	fallback := llm.FallbackConclusion()
	if last.Content != fallback.Content {
		t.Fatalf("expected fallback conclusion, got %+v", last)
	}
}

func TestSessionResetIsIdempotent(t *testing.T) {
	n := newTestStack(t, nil, nil, stubConcluder{})
	n.cfg.BuyerURL = "http://127.0.0.1:1"

	sess := n.Start(context.Background())
	if sess.Status() != domain.SessionStatusError {
		t.Fatalf("expected error status, got %s", sess.Status())
	}

	sess.Reset()
	sess.Reset()

	snap := sess.Snapshot()
	if snap.Status != domain.SessionStatusIdle || len(snap.Transcript) != 0 || snap.Artifact != nil {
		t.Fatalf("reset did not clear session: %+v", snap)
	}
}

func TestSessionSubscribeReplaysTranscript(t *testing.T) {
	sess := newSession("sess_test")
	sess.Append(domain.Message{Role: "a", Content: "one"})
	sess.Append(domain.Message{Role: "b", Content: "two"})

	replay, live := sess.Subscribe()
	defer sess.Unsubscribe(live)

	if len(replay) != 2 || replay[0].Content != "one" {
		t.Fatalf("unexpected replay: %+v", replay)
	}

	sess.Append(domain.Message{Role: "c", Content: "three"})
	select {
	case msg := <-live:
		if msg.Content != "three" {
			t.Fatalf("unexpected live message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for live message")
	}
}
