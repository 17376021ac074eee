package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeGateway implements Gateway on Stripe PaymentIntents.
//
// A hold is a PaymentIntent created with manual capture; the intent ID is
// the authorization reference and its client secret is the client token the
// UI needs to confirm the payment method.
type StripeGateway struct {
	api *client.API
}

// NewStripe creates a Stripe-backed gateway.
func NewStripe(secretKey string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api}
}

func (g *StripeGateway) AuthorizeHold(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*Authorization, error) {
	params := &stripe.PaymentIntentParams{
		Params:        stripe.Params{Context: ctx},
		Amount:        stripe.Int64(amountMinor),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapStripeErr("authorize", err)
	}

	return &Authorization{
		Ref:         pi.ID,
		ClientToken: pi.ClientSecret,
	}, nil
}

func (g *StripeGateway) Capture(ctx context.Context, authRef string) (*CaptureReceipt, error) {
	params := &stripe.PaymentIntentCaptureParams{
		Params: stripe.Params{Context: ctx},
	}

	pi, err := g.api.PaymentIntents.Capture(authRef, params)
	if err != nil {
		return nil, wrapStripeErr("capture", err)
	}

	return &CaptureReceipt{
		Ref:         pi.ID,
		AmountMinor: pi.AmountReceived,
		CapturedAt:  time.Now(),
	}, nil
}

func (g *StripeGateway) VoidOrRefund(ctx context.Context, authRef string) (*Receipt, error) {
	cancelParams := &stripe.PaymentIntentCancelParams{
		Params: stripe.Params{Context: ctx},
	}

	pi, err := g.api.PaymentIntents.Cancel(authRef, cancelParams)
	if err == nil {
		return &Receipt{Ref: pi.ID, Kind: "void", ProcessedAt: time.Now()}, nil
	}

	// A captured intent can't be cancelled; fall back to a refund.
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
		refundParams := &stripe.RefundParams{
			Params:        stripe.Params{Context: ctx},
			PaymentIntent: stripe.String(authRef),
		}
		ref, refundErr := g.api.Refunds.New(refundParams)
		if refundErr != nil {
			return nil, wrapStripeErr("void", refundErr)
		}
		return &Receipt{Ref: ref.ID, Kind: "refund", ProcessedAt: time.Now()}, nil
	}

	return nil, wrapStripeErr("void", err)
}

func wrapStripeErr(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return &Error{Op: op, Code: string(serr.Code), Err: err}
	}
	return &Error{Op: op, Err: err}
}

// Compile-time assertion that StripeGateway implements Gateway.
var _ Gateway = (*StripeGateway)(nil)
