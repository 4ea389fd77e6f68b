// Package profile stores member profile data alongside an account: contact
// details, addresses, and an encrypted payment card. It sits outside the
// authentication core; the core only hands it an account id.
package profile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bookstore-auth/internal/auth"
	"bookstore-auth/internal/krypto"
)

// Profile is the stored record. CreditCard never leaves storage decrypted;
// reads expose only the last four digits.
type Profile struct {
	AccountID       string
	FirstName       string
	LastName        string
	Phone           string
	BillingAddress  string
	ShippingAddress string
	CreditCardEnc   string
	UpdatedAt       time.Time
}

// Input is the writable subset.
type Input struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Phone           string `json:"phone"`
	BillingAddress  string `json:"billing_address"`
	ShippingAddress string `json:"shipping_address"`
	CreditCard      string `json:"credit_card"`
}

// View is what reads return.
type View struct {
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Phone           string    `json:"phone"`
	BillingAddress  string    `json:"billing_address"`
	ShippingAddress string    `json:"shipping_address"`
	CardLastFour    string    `json:"card_last_four,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store persists profiles keyed by account id.
type Store interface {
	Get(ctx context.Context, accountID string) (Profile, bool, error)
	Upsert(ctx context.Context, p Profile) error
}

type Service struct {
	store Store
	box   *krypto.Box
	now   func() time.Time
}

func NewService(store Store, box *krypto.Box) *Service {
	return &Service{
		store: store,
		box:   box,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Save sanitizes the free-text fields and encrypts the card before storage.
func (s *Service) Save(ctx context.Context, accountID string, input Input) error {
	card := strings.ReplaceAll(strings.TrimSpace(input.CreditCard), " ", "")
	encrypted, err := s.box.Seal(card)
	if err != nil {
		return fmt.Errorf("encrypt card: %w", err)
	}

	return s.store.Upsert(ctx, Profile{
		AccountID:       accountID,
		FirstName:       Sanitize(input.FirstName),
		LastName:        Sanitize(input.LastName),
		Phone:           Sanitize(input.Phone),
		BillingAddress:  Sanitize(input.BillingAddress),
		ShippingAddress: Sanitize(input.ShippingAddress),
		CreditCardEnc:   encrypted,
		UpdatedAt:       s.now(),
	})
}

// SaveRegistration adapts the registration payload from the auth handler.
func (s *Service) SaveRegistration(ctx context.Context, accountID string, p auth.RegisterProfile) error {
	if p == (auth.RegisterProfile{}) {
		return nil
	}
	return s.Save(ctx, accountID, Input{
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Phone:           p.Phone,
		BillingAddress:  p.BillingAddress,
		ShippingAddress: p.ShippingAddress,
		CreditCard:      p.CreditCard,
	})
}

// Get returns the profile view, decrypting only the card's tail.
func (s *Service) Get(ctx context.Context, accountID string) (View, error) {
	p, found, err := s.store.Get(ctx, accountID)
	if err != nil {
		return View{}, err
	}
	if !found {
		return View{}, nil
	}

	view := View{
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Phone:           p.Phone,
		BillingAddress:  p.BillingAddress,
		ShippingAddress: p.ShippingAddress,
		UpdatedAt:       p.UpdatedAt,
	}
	if p.CreditCardEnc != "" {
		card, err := s.box.Open(p.CreditCardEnc)
		if err != nil {
			return View{}, fmt.Errorf("decrypt card: %w", err)
		}
		if len(card) >= 4 {
			view.CardLastFour = card[len(card)-4:]
		}
	}
	return view, nil
}
