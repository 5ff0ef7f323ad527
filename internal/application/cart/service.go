package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/diner/internal/application"
	"github.com/Zhima-Mochi/diner/internal/domain/apperr"
	domcart "github.com/Zhima-Mochi/diner/internal/domain/cart"
	"github.com/Zhima-Mochi/diner/internal/domain/menu"
	"github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/Zhima-Mochi/diner/internal/domain/session"
	"github.com/Zhima-Mochi/diner/internal/observability"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const (
	cartService = "cart-service"

	useCaseAddItem        = "cart.add_item"
	useCaseUpdateQuantity = "cart.update_quantity"
	useCaseRemoveItem     = "cart.remove_item"
	useCaseClear          = "cart.clear"
	useCaseView           = "cart.view"
	useCaseSelectCatalog  = "cart.select_catalog"
)

// Service owns the session cart. Every mutation goes through session.Repository.Update so two
// requests of the same session never lose each other's change.
type Service struct {
	sessions session.Repository
	intents  payment.IntentRepository
	catalogs CatalogLoader
	ids      IDGenerator
	inst     application.Instrumentation
}

func NewService(
	sessions session.Repository,
	intents payment.IntentRepository,
	catalogs CatalogLoader,
	ids IDGenerator,
	tel observability.Observability,
) *Service {
	return &Service{
		sessions: sessions,
		intents:  intents,
		catalogs: catalogs,
		ids:      ids,
		inst:     application.NewInstrumentation(cartService, tel),
	}
}

type AddItemInput struct {
	SessionID string
	ItemName  string
	UnitPrice decimal.Decimal
	Quantity  int
}

func (s *Service) AddItem(ctx context.Context, in AddItemInput) (err error) {
	ctx, run := s.inst.Start(ctx, useCaseAddItem, "AddItem",
		attribute.String("cart.item", in.ItemName),
		attribute.Int("cart.quantity", in.Quantity),
	)
	defer func() { run.End(err) }()

	_, err = s.sessions.Update(ctx, in.SessionID, func(sess *session.Session) error {
		if in.ItemName != "" {
			if err := s.orderable(ctx, sess.MenuParam, in.ItemName); err != nil {
				return err
			}
		}
		return sess.EnsureCart().Add(in.ItemName, in.UnitPrice, in.Quantity)
	})
	if err != nil {
		run.Fail(statusFor(err))
	}
	return err
}

// orderable checks name against the catalog the session is browsing. The submitted price is kept.
func (s *Service) orderable(ctx context.Context, selector, name string) error {
	catalog, err := s.catalogs.Load(ctx, selector)
	if err != nil {
		return err
	}
	item, err := catalog.Lookup(name)
	if err != nil {
		return err
	}
	if !item.InStock {
		return fmt.Errorf("%w: %q", menu.ErrOutOfStock, name)
	}
	return nil
}

func (s *Service) UpdateQuantity(ctx context.Context, sessionID, itemName string, quantity int) (err error) {
	ctx, run := s.inst.Start(ctx, useCaseUpdateQuantity, "UpdateQuantity",
		attribute.String("cart.item", itemName),
		attribute.Int("cart.quantity", quantity),
	)
	defer func() { run.End(err) }()

	_, err = s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		if sess.Cart == nil {
			return domcart.ErrNoCart
		}
		return sess.Cart.UpdateQuantity(itemName, quantity)
	})
	if err != nil {
		run.Fail(statusFor(err))
	}
	return err
}

// RemoveItem drops every line named itemName. A name that is not in the cart is not an error.
func (s *Service) RemoveItem(ctx context.Context, sessionID, itemName string) (err error) {
	ctx, run := s.inst.Start(ctx, useCaseRemoveItem, "RemoveItem",
		attribute.String("cart.item", itemName),
	)
	defer func() { run.End(err) }()

	removed := 0
	_, err = s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		if sess.Cart == nil {
			return domcart.ErrNoCart
		}
		removed = sess.Cart.Remove(itemName)
		return nil
	})
	if err != nil {
		run.Fail(statusFor(err))
		return err
	}
	if removed == 0 {
		run.Status("NO_MATCHING_LINE")
	}
	run.With(observability.F("removed", removed))
	return nil
}

// Clear empties the cart of a session. Missing sessions and absent carts are left alone.
func (s *Service) Clear(ctx context.Context, sessionID string) (err error) {
	ctx, run := s.inst.Start(ctx, useCaseClear, "Clear")
	defer func() { run.End(err) }()

	if _, getErr := s.sessions.Get(ctx, sessionID); errors.Is(getErr, session.ErrNotFound) {
		run.Status("SESSION_GONE")
		return nil
	}
	_, err = s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		if sess.Cart != nil {
			sess.Cart.Clear()
		}
		return nil
	})
	if err != nil {
		run.Fail(statusFor(err))
	}
	return err
}

type View struct {
	Lines         []domcart.Line
	Total         decimal.Decimal
	TransactionID string
}

// View returns the cart with a fresh transaction id. A non-empty cart also registers a payment
// intent under that id.
func (s *Service) View(ctx context.Context, sessionID string) (_ *View, err error) {
	ctx, run := s.inst.Start(ctx, useCaseView, "ViewCart")
	defer func() { run.End(err) }()

	var c *domcart.Cart
	sess, err := s.sessions.Get(ctx, sessionID)
	switch {
	case err == nil:
		c = sess.Cart
	case errors.Is(err, session.ErrNotFound):
		err = nil
	default:
		run.Fail("SESSION_LOAD_FAILED")
		return nil, err
	}

	total := c.DisplayTotal()
	txID := s.ids.NewID()
	run.Span().SetAttributes(attribute.String("payment.transaction_id", txID))

	lines := []domcart.Line{}
	if c.IsEmpty() {
		run.Status("EMPTY_CART")
		return &View{Lines: lines, Total: total, TransactionID: txID}, nil
	}

	intent, err := payment.NewIntent(txID, sessionID, total)
	if err != nil {
		run.Fail("INTENT_INVALID")
		return nil, err
	}
	if err = s.intents.Save(ctx, intent); err != nil {
		run.Fail("INTENT_SAVE_FAILED")
		return nil, err
	}
	lines = append(lines, c.Lines...)
	return &View{Lines: lines, Total: total, TransactionID: txID}, nil
}

// Transaction returns the intent registered for transactionID when it belongs to sessionID.
// Intents of other sessions are reported as not found.
func (s *Service) Transaction(ctx context.Context, sessionID, transactionID string) (*payment.Intent, error) {
	in, err := s.intents.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if in.SessionID != sessionID {
		return nil, fmt.Errorf("%w: %s", payment.ErrIntentNotFound, transactionID)
	}
	return in, nil
}

// SelectCatalog loads the catalog for selector. Switching to a different catalog than the one the
// session last used clears the cart and resets the assistant conversation.
func (s *Service) SelectCatalog(ctx context.Context, sessionID, selector string) (_ *menu.Catalog, err error) {
	ctx, run := s.inst.Start(ctx, useCaseSelectCatalog, "SelectCatalog",
		attribute.String("catalog.selector", selector),
	)
	defer func() { run.End(err) }()

	catalog, err := s.catalogs.Load(ctx, selector)
	if err != nil {
		run.Fail(statusFor(err))
		return nil, err
	}

	changed := false
	_, err = s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		if sess.MenuParam == selector {
			return nil
		}
		changed = true
		if sess.Cart != nil {
			sess.Cart.Clear()
		}
		sess.History = nil
		sess.MenuParam = selector
		return nil
	})
	if err != nil {
		run.Fail(statusFor(err))
		return nil, err
	}
	if changed {
		run.Status("CATALOG_CHANGED")
	}
	return catalog, nil
}

// ActiveCatalog returns the catalog the session last selected, or the default one.
func (s *Service) ActiveCatalog(ctx context.Context, sessionID string) (*menu.Catalog, error) {
	selector := ""
	if sess, err := s.sessions.Get(ctx, sessionID); err == nil {
		selector = sess.MenuParam
	} else if !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}
	return s.catalogs.Load(ctx, selector)
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, domcart.ErrNoCart):
		return "CART_NOT_FOUND"
	case errors.Is(err, domcart.ErrLineNotFound):
		return "LINE_NOT_FOUND"
	case errors.Is(err, domcart.ErrInvalidQuantity):
		return "QUANTITY_INVALID"
	case errors.Is(err, domcart.ErrInvalidPrice):
		return "PRICE_INVALID"
	case errors.Is(err, domcart.ErrInvalidItem):
		return "ITEM_INVALID"
	case errors.Is(err, menu.ErrItemNotFound):
		return "ITEM_NOT_ON_MENU"
	case errors.Is(err, menu.ErrOutOfStock):
		return "ITEM_OUT_OF_STOCK"
	case errors.Is(err, menu.ErrInvalidCatalog):
		return "CATALOG_SELECTOR_INVALID"
	case errors.Is(err, session.ErrMissingID):
		return "SESSION_ID_REQUIRED"
	case errors.Is(err, session.ErrUpdateAborted):
		return "SESSION_CONTENDED"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CONTEXT_CANCELED"
	case errors.Is(err, apperr.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, apperr.ErrUpstream):
		return "UPSTREAM_FAILED"
	default:
		return "STORE_FAILED"
	}
}
