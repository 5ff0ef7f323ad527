package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Zhima-Mochi/diner/internal/application"
	"github.com/Zhima-Mochi/diner/internal/application/assistant"
	appcart "github.com/Zhima-Mochi/diner/internal/application/cart"
	apppay "github.com/Zhima-Mochi/diner/internal/application/payment"
	"github.com/Zhima-Mochi/diner/internal/domain/cart"
	"github.com/Zhima-Mochi/diner/internal/domain/menu"
	"github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/Zhima-Mochi/diner/internal/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
)

const (
	componentHTTPHandler = "http_server"
	headerSignature      = "x-signature"
	defaultRedirect      = "/view_cart"
	maxBodyBytes         = 1 << 20
	sseHeartbeat         = 15 * time.Second
)

type CartService interface {
	AddItem(ctx context.Context, in appcart.AddItemInput) error
	UpdateQuantity(ctx context.Context, sessionID, itemName string, quantity int) error
	RemoveItem(ctx context.Context, sessionID, itemName string) error
	View(ctx context.Context, sessionID string) (*appcart.View, error)
	SelectCatalog(ctx context.Context, sessionID, selector string) (*menu.Catalog, error)
	ActiveCatalog(ctx context.Context, sessionID string) (*menu.Catalog, error)
	Transaction(ctx context.Context, sessionID, transactionID string) (*payment.Intent, error)
}

// Observers lets a page wait for the outcome of its transaction.
type Observers interface {
	Subscribe(transactionID string) (<-chan payment.OutcomeEvent, func())
}

type Deps struct {
	Cart           CartService
	CardPayment    application.UseCase[apppay.CardPaymentInput, *apppay.CardPaymentResult]
	CryptoConfig   application.UseCase[apppay.SignedRequest, *apppay.SignedResponse]
	CryptoEvents   application.UseCase[apppay.SignedRequest, *apppay.EventResult]
	Chat           application.UseCase[assistant.ChatInput, *assistant.ChatResult]
	Observers      Observers
	SessionIDs     IDGenerator
	Metrics        http.Handler
	RequestTimeout time.Duration
	SecureCookies  bool
}

type Handler struct {
	deps Deps
	log  observability.Logger
	tel  observability.Observability
}

func NewHandler(deps Deps, tel observability.Observability) *Handler {
	tel = observability.Or(tel)
	return &Handler{
		deps: deps,
		log:  tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:  tel,
	}
}

// Router wires Trace → request logger + HTTP metrics → access log → session → handler.
// The event stream is kept out of the request timeout.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(withTrace)
	r.Use(ObservabilityMiddleware(h.log, h.tel))
	r.Use(withAccessLog(h.log))

	r.Get("/health", h.handleHealth)
	if h.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.deps.Metrics)
	}

	// processor callbacks are authenticated by signature, not by session
	r.Group(func(r chi.Router) {
		r.Use(h.timeout)
		r.Post("/depay/endpoint", h.handleDepayConfiguration)
		r.Post("/depay/events", h.handleDepayEvent)
	})

	r.Group(func(r chi.Router) {
		r.Use(SessionMiddleware(h.deps.SessionIDs, h.deps.SecureCookies))
		r.Get("/payments/{transactionId}/events", h.handlePaymentEvents)

		r.Group(func(r chi.Router) {
			r.Use(h.timeout)
			r.Get("/", h.handleIndex)
			r.Get("/menu", h.handleMenu)
			r.Get("/category/{name}", h.handleCategory)
			r.Get("/view_cart", h.handleViewCart)
			r.Post("/add_to_cart", h.handleAddToCart)
			r.Post("/remove_from_cart", h.handleRemoveFromCart)
			r.Post("/update_cart", h.handleUpdateCart)
			r.Post("/process_payment", h.handleProcessPayment)
			r.Post("/chat", h.handleChat)
		})
	})
	return r
}

func (h *Handler) timeout(next http.Handler) http.Handler {
	if h.deps.RequestTimeout <= 0 {
		return next
	}
	return middleware.Timeout(h.deps.RequestTimeout)(next)
}

type indexResponse struct {
	Title string      `json:"title"`
	Menu  string      `json:"menu"`
	Items []menu.Item `json:"items"`
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	selector := r.URL.Query().Get("menu")
	catalog, err := h.deps.Cart.SelectCatalog(r.Context(), sessionID(r), selector)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	title := "Menu"
	if selector != "" {
		title = strings.ToUpper(selector[:1]) + selector[1:] + " Menu"
	}
	writeJSON(w, http.StatusOK, indexResponse{Title: title, Menu: selector, Items: catalog.InStock()})
}

func (h *Handler) handleMenu(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.deps.Cart.ActiveCatalog(r.Context(), sessionID(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog.InStock())
}

func (h *Handler) handleCategory(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.deps.Cart.ActiveCatalog(r.Context(), sessionID(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog.ByCategory(chi.URLParam(r, "name")))
}

type cartLine struct {
	ItemName  string      `json:"item_name"`
	UnitPrice json.Number `json:"unit_price"`
	Quantity  int         `json:"quantity"`
	Subtotal  json.Number `json:"subtotal"`
}

type viewCartResponse struct {
	Items         []cartLine  `json:"items"`
	Total         json.Number `json:"total"`
	TransactionID string      `json:"transactionId"`
}

// money writes d as a JSON number with two decimals.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func (h *Handler) handleViewCart(w http.ResponseWriter, r *http.Request) {
	v, err := h.deps.Cart.View(r.Context(), sessionID(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewCartResponse{
		Items:         toCartLines(v.Lines),
		Total:         money(v.Total),
		TransactionID: v.TransactionID,
	})
}

func toCartLines(lines []cart.Line) []cartLine {
	out := make([]cartLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, cartLine{ItemName: l.ItemName, UnitPrice: money(l.UnitPrice), Quantity: l.Quantity, Subtotal: money(l.Subtotal())})
	}
	return out
}

func (h *Handler) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeDomainError(w, r, err)
		return
	}
	quantity, err := formQuantity(r, "quantity")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	price, err := formPrice(r, "item_price")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	err = h.deps.Cart.AddItem(r.Context(), appcart.AddItemInput{
		SessionID: sessionID(r),
		ItemName:  strings.TrimSpace(r.PostFormValue("item_name")),
		UnitPrice: price,
		Quantity:  quantity,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	redirectBack(w, r)
}

func (h *Handler) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := h.deps.Cart.RemoveItem(r.Context(), sessionID(r), strings.TrimSpace(r.PostFormValue("item_name"))); err != nil {
		writeDomainError(w, r, err)
		return
	}
	redirectBack(w, r)
}

func (h *Handler) handleUpdateCart(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeDomainError(w, r, err)
		return
	}
	quantity, err := formQuantity(r, "new_quantity")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := h.deps.Cart.UpdateQuantity(r.Context(), sessionID(r), strings.TrimSpace(r.PostFormValue("item_name")), quantity); err != nil {
		writeDomainError(w, r, err)
		return
	}
	redirectBack(w, r)
}

type processPaymentRequest struct {
	Total         decimal.Decimal `json:"total"`
	TransactionID string          `json:"transactionId"`
}

type processPaymentResponse struct {
	Success       bool        `json:"success"`
	CardNum       string      `json:"cardNum,omitempty"`
	AuthAmount    json.Number `json:"authAmount,omitempty"`
	TransactionID string      `json:"transactionId"`
	Message       string      `json:"message,omitempty"`
}

func (h *Handler) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req processPaymentRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSON(w, r, &req); err != nil {
			writeDomainError(w, r, err)
			return
		}
	} else {
		if err := parseForm(w, r); err != nil {
			writeDomainError(w, r, err)
			return
		}
		total, err := formPrice(r, "total")
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		req.Total = total
		req.TransactionID = r.PostFormValue("transactionId")
	}

	res, err := h.deps.CardPayment.Execute(r.Context(), apppay.CardPaymentInput{
		SessionID:     sessionID(r),
		TransactionID: req.TransactionID,
		Total:         req.Total,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusOK, processPaymentResponse{
			Success:       false,
			TransactionID: res.TransactionID,
			Message:       "payment declined: " + res.ResultCode,
		})
		return
	}
	writeJSON(w, http.StatusOK, processPaymentResponse{
		Success:       true,
		CardNum:       res.CardNumber,
		AuthAmount:    money(res.AuthAmount),
		TransactionID: res.TransactionID,
	})
}

func (h *Handler) handleDepayConfiguration(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := h.deps.CryptoConfig.Execute(r.Context(), apppay.SignedRequest{Body: body, Signature: r.Header.Get(headerSignature)})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set(headerSignature, res.Signature)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}

type depayEventResponse struct {
	Status       string `json:"status"`
	Acknowledged bool   `json:"acknowledged"`
}

func (h *Handler) handleDepayEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := h.deps.CryptoEvents.Execute(r.Context(), apppay.SignedRequest{Body: body, Signature: r.Header.Get(headerSignature)})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, depayEventResponse{Status: res.Status, Acknowledged: res.Acknowledged})
}

// handlePaymentEvents streams the outcome of one transaction as a single server-sent event.
// Only the session that viewed the transaction may watch it.
func (h *Handler) handlePaymentEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDomainError(w, r, errors.New("streaming unsupported"))
		return
	}
	txID := chi.URLParam(r, "transactionId")
	events, cancel := h.deps.Observers.Subscribe(txID)
	defer cancel()
	// subscribe before the ownership check so no outcome lands between the two
	if _, err := h.deps.Cart.Transaction(r.Context(), sessionID(r), txID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				return
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.EventName(), data)
			flusher.Flush()
			return
		}
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	res, err := h.deps.Chat.Execute(r.Context(), assistant.ChatInput{SessionID: sessionID(r), Message: req.Message})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: res.Reply})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("%w: %v", errBadForm, err)
	}
	return nil
}

// formQuantity accepts only base-10 integers >= 1: "0", "-1", "abc" and "1.5" are rejected.
func formQuantity(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.PostFormValue(key))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", cart.ErrInvalidQuantity, key, raw)
	}
	return n, nil
}

func formPrice(r *http.Request, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(r.PostFormValue(key))
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s must be a non-negative number, got %q", cart.ErrInvalidPrice, key, raw)
	}
	return d, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return nil
}

// readBody returns the raw body, which is what processor signatures are computed over.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, errBodyTooBig
		}
		return nil, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return body, nil
}

// redirectBack sends the browser to the page it came from when that page is on this host.
func redirectBack(w http.ResponseWriter, r *http.Request) {
	target := defaultRedirect
	if ref := r.Referer(); ref != "" {
		if u, err := url.Parse(ref); err == nil && (u.Host == "" || u.Host == r.Host) && u.Path != "" {
			target = u.RequestURI()
		}
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
