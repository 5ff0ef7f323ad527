package httppresentation

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Zhima-Mochi/diner/internal/application/assistant"
	appcart "github.com/Zhima-Mochi/diner/internal/application/cart"
	apppay "github.com/Zhima-Mochi/diner/internal/application/payment"
	"github.com/Zhima-Mochi/diner/internal/domain/apperr"
	"github.com/Zhima-Mochi/diner/internal/domain/chat"
	"github.com/Zhima-Mochi/diner/internal/domain/menu"
	"github.com/Zhima-Mochi/diner/internal/domain/outbox"
	"github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/broadcast"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/id"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type catalogs map[string]*menu.Catalog

func (c catalogs) Load(_ context.Context, selector string) (*menu.Catalog, error) {
	if cat, ok := c[selector]; ok {
		return cat, nil
	}
	return nil, fmt.Errorf("catalog %q: %w", selector, apperr.ErrNotFound)
}

type stubVerifier struct{}

func (stubVerifier) Verify(_ []byte, sig string) error {
	if sig != "good" {
		return payment.ErrBadSignature
	}
	return nil
}

type stubSigner struct{}

func (stubSigner) Sign([]byte) (string, error) { return "signed-by-us", nil }

type stubGateway struct{}

func (stubGateway) Authorize(_ context.Context, auth payment.CardAuthorization) (payment.CardResult, error) {
	return payment.CardResult{ResultCode: payment.ResultApproved, CardNumber: "...1234", AuthorizedAmount: auth.Amount}, nil
}

type stubCompleter struct{}

func (stubCompleter) Complete(_ context.Context, msgs []chat.Message) (string, error) {
	return "echo: " + msgs[len(msgs)-1].Content, nil
}

type server struct {
	*httptest.Server
	hub      *broadcast.Hub
	sessions *memory.SessionRepository
}

func newServer(t *testing.T) *server {
	t.Helper()
	main, err := menu.NewCatalog("", []menu.Item{
		{Name: "Burger", Price: decimal.RequireFromString("8.50"), Category: "Mains", InStock: true},
		{Name: "Fries", Price: decimal.RequireFromString("3"), Category: "Sides", InStock: true},
		{Name: "Soup", Price: decimal.RequireFromString("4"), Category: "Mains", InStock: false},
	})
	require.NoError(t, err)

	ids := id.NewUUIDGenerator()
	sessions := memory.NewSessionRepository(time.Hour)
	intents := memory.NewIntentRepository(time.Hour)
	hub := broadcast.NewHub(1)
	pub := hubPublisher{hub}

	cartSvc := appcart.NewService(sessions, intents, catalogs{"": main}, ids, nil)
	h := NewHandler(Deps{
		Cart:           cartSvc,
		CardPayment:    apppay.NewCardPaymentUseCase(sessions, intents, stubGateway{}, cartSvc, ids, pub, nil),
		CryptoConfig:   apppay.NewCryptoConfigureUseCase(stubVerifier{}, stubSigner{}, intents, []apppay.AcceptedAsset{{Blockchain: "ethereum", Token: "0xT", Receiver: "0xR"}}, nil),
		CryptoEvents:   apppay.NewCryptoEventUseCase(stubVerifier{}, intents, cartSvc, pub, nil),
		Chat:           assistant.NewChatUseCase(sessions, cartSvc, stubCompleter{}, 0, nil),
		Observers:      hub,
		SessionIDs:     ids,
		Metrics:        http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		RequestTimeout: 5 * time.Second,
	}, nil)

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &server{Server: srv, hub: hub, sessions: sessions}
}

// hubPublisher delivers outcomes synchronously, standing in for the bus.
type hubPublisher struct{ hub *broadcast.Hub }

func (p hubPublisher) Publish(_ context.Context, e outbox.Event) error {
	if evt, ok := e.(payment.OutcomeEvent); ok {
		p.hub.Notify(evt)
	}
	return nil
}

type client struct {
	t   *testing.T
	srv *server
	sid *http.Cookie
}

func (s *server) client(t *testing.T) *client {
	return &client{t: t, srv: s}
}

func (c *client) do(req *http.Request) *http.Response {
	c.t.Helper()
	if c.sid != nil {
		req.AddCookie(c.sid)
	}
	hc := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := hc.Do(req)
	require.NoError(c.t, err)
	for _, ck := range resp.Cookies() {
		if ck.Name == cookieSessionID {
			c.sid = ck
		}
	}
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (c *client) get(path string) *http.Response {
	req, err := http.NewRequest(http.MethodGet, c.srv.URL+path, nil)
	require.NoError(c.t, err)
	return c.do(req)
}

func (c *client) postForm(path string, form url.Values, referer string) *http.Response {
	req, err := http.NewRequest(http.MethodPost, c.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	return c.do(req)
}

func (c *client) postJSON(path, body string, header map[string]string) *http.Response {
	req, err := http.NewRequest(http.MethodPost, c.srv.URL+path, strings.NewReader(body))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func addForm(name, price, qty string) url.Values {
	return url.Values{"item_name": {name}, "item_price": {price}, "quantity": {qty}}
}

func TestAddToCart_RedirectsAndTotals(t *testing.T) {
	s := newServer(t)
	c := s.client(t)

	resp := c.postForm("/add_to_cart", addForm("Burger", "8.50", "2"), s.URL+"/menu?x=1")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/menu?x=1", resp.Header.Get("Location"))
	require.NotNil(t, c.sid)
	assert.True(t, c.sid.HttpOnly)

	resp = c.postForm("/add_to_cart", addForm("Burger", "8.50", "1"), "")
	assert.Equal(t, "/view_cart", resp.Header.Get("Location"))

	view := decode[viewCartResponse](t, c.get("/view_cart"))
	require.Len(t, view.Items, 1)
	assert.Equal(t, 3, view.Items[0].Quantity)
	assert.Equal(t, json.Number("25.50"), view.Total)
	assert.Equal(t, json.Number("8.50"), view.Items[0].UnitPrice)
	assert.Equal(t, json.Number("25.50"), view.Items[0].Subtotal)
	assert.NotEmpty(t, view.TransactionID)
}

func TestAddToCart_ForeignRefererIsIgnored(t *testing.T) {
	s := newServer(t)
	resp := s.client(t).postForm("/add_to_cart", addForm("Fries", "3", "1"), "https://evil.example/phish")
	assert.Equal(t, "/view_cart", resp.Header.Get("Location"))
}

func TestAddToCart_RejectsBadInput(t *testing.T) {
	s := newServer(t)
	cases := map[string]url.Values{
		"zero":        addForm("Burger", "8.50", "0"),
		"negative":    addForm("Burger", "8.50", "-1"),
		"word":        addForm("Burger", "8.50", "abc"),
		"fraction":    addForm("Burger", "8.50", "1.5"),
		"bad price":   addForm("Burger", "cheap", "1"),
		"neg price":   addForm("Burger", "-2", "1"),
		"no quantity": {"item_name": {"Burger"}, "item_price": {"1"}},
	}
	for name, form := range cases {
		t.Run(name, func(t *testing.T) {
			resp := s.client(t).postForm("/add_to_cart", form, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decode[errorResponse](t, resp)
			assert.Equal(t, "validation_error", body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestRemoveAndUpdate_WithoutCart(t *testing.T) {
	s := newServer(t)
	c := s.client(t)

	resp := c.postForm("/remove_from_cart", url.Values{"item_name": {"Burger"}}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "not_found", decode[errorResponse](t, resp).Code)

	resp = c.postForm("/update_cart", url.Values{"item_name": {"Burger"}, "new_quantity": {"2"}}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateAndRemove(t *testing.T) {
	s := newServer(t)
	c := s.client(t)
	c.postForm("/add_to_cart", addForm("Burger", "8.50", "1"), "")
	c.postForm("/add_to_cart", addForm("Fries", "3", "1"), "")

	resp := c.postForm("/update_cart", url.Values{"item_name": {"Burger"}, "new_quantity": {"0"}}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = c.postForm("/update_cart", url.Values{"item_name": {"Burger"}, "new_quantity": {"4"}}, "")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	resp = c.postForm("/remove_from_cart", url.Values{"item_name": {"Fries"}}, "")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	resp = c.postForm("/remove_from_cart", url.Values{"item_name": {"Pizza"}}, "")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "removing an absent item is a no-op")

	view := decode[viewCartResponse](t, c.get("/view_cart"))
	require.Len(t, view.Items, 1)
	assert.Equal(t, json.Number("34.00"), view.Total)
}

func TestMenuRoutes(t *testing.T) {
	s := newServer(t)
	c := s.client(t)

	index := decode[indexResponse](t, c.get("/"))
	assert.Equal(t, "Menu", index.Title)
	assert.Len(t, index.Items, 2)

	items := decode[[]menu.Item](t, c.get("/menu"))
	assert.Len(t, items, 2)

	mains := decode[[]menu.Item](t, c.get("/category/Mains"))
	require.Len(t, mains, 1)
	assert.Equal(t, "Burger", mains[0].Name)

	raw := decode[[]map[string]any](t, c.get("/menu"))
	require.NotEmpty(t, raw)
	assert.Equal(t, 8.5, raw[0]["price"])

	resp := c.get("/?menu=../../etc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = c.get("/?menu=brunch")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProcessPayment_ClearsCart(t *testing.T) {
	s := newServer(t)
	c := s.client(t)
	c.postForm("/add_to_cart", addForm("Burger", "8.50", "3"), "")
	view := decode[viewCartResponse](t, c.get("/view_cart"))

	resp := c.postJSON("/process_payment", fmt.Sprintf(`{"total": 25.50, "transactionId": %q}`, view.TransactionID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "...1234", body["cardNum"])
	assert.Equal(t, 25.5, body["authAmount"], "amounts are JSON numbers")
	assert.Equal(t, view.TransactionID, body["transactionId"])

	after := decode[viewCartResponse](t, c.get("/view_cart"))
	assert.Empty(t, after.Items)
}

func TestProcessPayment_EmptyCartRejected(t *testing.T) {
	s := newServer(t)
	resp := s.client(t).postForm("/process_payment", url.Values{"total": {"10"}}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", decode[errorResponse](t, resp).Code)
}

func TestDepayEndpoint(t *testing.T) {
	s := newServer(t)
	c := s.client(t)

	resp := c.postJSON("/depay/endpoint", `{"total": 10}`, map[string]string{"x-signature": "good"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "signed-by-us", resp.Header.Get("x-signature"))
	assert.Contains(t, decode[map[string]any](t, resp), "accept")

	resp = c.postJSON("/depay/endpoint", `{"total": 10}`, map[string]string{"x-signature": "forged"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "authentication_error", decode[errorResponse](t, resp).Code)
}

func TestDepayEvents_InvalidSignature(t *testing.T) {
	s := newServer(t)
	c := s.client(t)
	c.postForm("/add_to_cart", addForm("Burger", "8.50", "1"), "")
	view := decode[viewCartResponse](t, c.get("/view_cart"))

	events, cancel := s.hub.Subscribe(view.TransactionID)
	defer cancel()

	body := fmt.Sprintf(`{"status":"succeeded","transaction_id":%q}`, view.TransactionID)
	resp := c.postJSON("/depay/events", body, map[string]string{"x-signature": "forged"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	again := decode[viewCartResponse](t, c.get("/view_cart"))
	assert.Len(t, again.Items, 1)
	select {
	case <-events:
		t.Fatal("no outcome may be broadcast for an unverified event")
	default:
	}
}

func TestDepayEvents_SucceededStreamsToObserver(t *testing.T) {
	s := newServer(t)
	c := s.client(t)
	c.postForm("/add_to_cart", addForm("Burger", "8.50", "1"), "")
	view := decode[viewCartResponse](t, c.get("/view_cart"))

	req, err := http.NewRequest(http.MethodGet, s.URL+"/payments/"+view.TransactionID+"/events", nil)
	require.NoError(t, err)
	stream := c.do(req)
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return s.hub.Observers(view.TransactionID) == 1 }, time.Second, 10*time.Millisecond)

	body := fmt.Sprintf(`{"status":"succeeded","transaction_id":%q}`, view.TransactionID)
	resp := c.postJSON("/depay/events", body, map[string]string{"x-signature": "good"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, depayEventResponse{Status: "succeeded", Acknowledged: true}, decode[depayEventResponse](t, resp))

	var eventLine, dataLine string
	sc := bufio.NewScanner(stream.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	assert.Equal(t, "event: payment.succeeded", eventLine)
	assert.Contains(t, dataLine, view.TransactionID)

	after := decode[viewCartResponse](t, c.get("/view_cart"))
	assert.Empty(t, after.Items)
}

func TestPaymentEvents_OtherSessionsCannotWatch(t *testing.T) {
	s := newServer(t)
	owner := s.client(t)
	owner.postForm("/add_to_cart", addForm("Burger", "8.50", "1"), "")
	view := decode[viewCartResponse](t, owner.get("/view_cart"))

	stranger := s.client(t)
	resp := stranger.get("/payments/" + view.TransactionID + "/events")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "not_found", decode[errorResponse](t, resp).Code)
	assert.Zero(t, s.hub.Observers(view.TransactionID))

	resp = owner.get("/payments/not-a-transaction/events")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddToCart_UnknownItemRejected(t *testing.T) {
	s := newServer(t)
	c := s.client(t)

	resp := c.postForm("/add_to_cart", addForm("Pizza", "1", "1"), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "not_found", decode[errorResponse](t, resp).Code)
	resp = c.postForm("/add_to_cart", addForm("Soup", "4", "1"), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", decode[errorResponse](t, resp).Code)
}

func TestProcessPayment_UnderpaymentRejected(t *testing.T) {
	s := newServer(t)
	c := s.client(t)
	c.postForm("/add_to_cart", addForm("Burger", "8.50", "3"), "")
	view := decode[viewCartResponse](t, c.get("/view_cart"))

	resp := c.postJSON("/process_payment", fmt.Sprintf(`{"total": 0.01, "transactionId": %q}`, view.TransactionID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", decode[errorResponse](t, resp).Code)

	after := decode[viewCartResponse](t, c.get("/view_cart"))
	assert.Len(t, after.Items, 1)
}

func TestChat(t *testing.T) {
	s := newServer(t)
	c := s.client(t)

	resp := c.postJSON("/chat", `{"message":"hello"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "echo: hello", decode[chatResponse](t, resp).Reply)

	resp = c.postJSON("/chat", `{"message":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = c.postJSON("/chat", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)
	c := s.client(t)

	resp := c.get("/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))
	assert.Nil(t, c.sid, "health checks do not mint sessions")

	resp = c.get("/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
