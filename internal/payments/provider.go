package payments

import (
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Provider is the narrow slice of the payment provider the app depends on.
// Tests swap in a fake; production uses StripeProvider.
type Provider interface {
	CreateAccount(email string) (*stripe.Account, error)
	GetAccount(id string) (*stripe.Account, error)
	CreateAccountLink(accountID string) (*stripe.AccountLink, error)
	CreateCheckoutSession(accountID, productName string, amountCents, feeCents int64) (*stripe.CheckoutSession, error)
	GetCheckoutSession(id string) (*stripe.CheckoutSession, error)
}

// StripeProvider talks to Stripe through an injected API client. The client
// is constructed once at process start; nothing here touches the package
// globals of the Stripe SDK.
type StripeProvider struct {
	api         *client.API
	frontendURL string
}

func NewStripeProvider(secretKey, frontendURL string) *StripeProvider {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProvider{api: api, frontendURL: frontendURL}
}

// CreateAccount creates a Stripe Express account for a clinician.
func (p *StripeProvider) CreateAccount(email string) (*stripe.Account, error) {
	return p.api.Accounts.New(&stripe.AccountParams{
		Type:    stripe.String(string(stripe.AccountTypeExpress)),
		Country: stripe.String("US"),
		Email:   stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{
				Requested: stripe.Bool(true),
			},
			Transfers: &stripe.AccountCapabilitiesTransfersParams{
				Requested: stripe.Bool(true),
			},
		},
	})
}

func (p *StripeProvider) GetAccount(id string) (*stripe.Account, error) {
	return p.api.Accounts.GetByID(id, nil)
}

// CreateAccountLink generates an onboarding link for a connected account.
func (p *StripeProvider) CreateAccountLink(accountID string) (*stripe.AccountLink, error) {
	return p.api.AccountLinks.New(&stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		ReturnURL:  stripe.String(p.frontendURL),
		RefreshURL: stripe.String(p.frontendURL),
		Type:       stripe.String(string(stripe.AccountLinkTypeAccountOnboarding)),
	})
}

// CreateCheckoutSession creates an embedded Checkout Session for a
// manual-capture, destination-transfer payment. Amounts are integer cents.
func (p *StripeProvider) CreateCheckoutSession(
	accountID, productName string,
	amountCents, feeCents int64,
) (*stripe.CheckoutSession, error) {
	return p.api.CheckoutSessions.New(&stripe.CheckoutSessionParams{
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(amountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(productName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(feeCents),
			CaptureMethod:        stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
			TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripe.String(accountID),
			},
		},
		Mode:      stripe.String(string(stripe.CheckoutSessionModePayment)),
		UIMode:    stripe.String(string(stripe.CheckoutSessionUIModeEmbedded)),
		ReturnURL: stripe.String(p.frontendURL + "/checkout/return?session_id={CHECKOUT_SESSION_ID}"),
	})
}

func (p *StripeProvider) GetCheckoutSession(id string) (*stripe.CheckoutSession, error) {
	return p.api.CheckoutSessions.Get(id, nil)
}
