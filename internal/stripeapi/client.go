package stripeapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const DefaultBaseURL = "https://api.stripe.com"

// Client talks to the Stripe REST API directly. BaseURL and HTTPClient are
// injectable so tests can point it at a local server.
type Client struct {
	SecretKey  string
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(secretKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		SecretKey:  secretKey,
		BaseURL:    baseURL,
		HTTPClient: http.DefaultClient,
	}
}

func (c *Client) GetPrice(ctx context.Context, priceID string) (Price, error) {
	var price Price
	err := c.get(ctx, "/v1/prices/"+url.PathEscape(priceID), nil, &price)
	return price, err
}

func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (Customer, bool, error) {
	var list struct {
		Data []Customer `json:"data"`
	}
	query := url.Values{}
	query.Set("email", email)
	query.Set("limit", "1")
	if err := c.get(ctx, "/v1/customers", query, &list); err != nil {
		return Customer{}, false, err
	}
	for _, customer := range list.Data {
		if !customer.Deleted {
			return customer, true, nil
		}
	}
	return Customer{}, false, nil
}

func (c *Client) CreateCustomer(ctx context.Context, email, userID string) (Customer, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("metadata[user_id]", userID)
	var customer Customer
	err := c.post(ctx, "/v1/customers", form, &customer)
	return customer, err
}

func (c *Client) TagCustomerUser(ctx context.Context, customerID, userID string) (Customer, error) {
	form := url.Values{}
	form.Set("metadata[user_id]", userID)
	var customer Customer
	err := c.post(ctx, "/v1/customers/"+url.PathEscape(customerID), form, &customer)
	return customer, err
}

type CheckoutParams struct {
	Mode              string
	PriceID           string
	CustomerID        string
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
	Metadata          map[string]string
}

func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", params.Mode)
	form.Set("customer", params.CustomerID)
	form.Set("client_reference_id", params.ClientReferenceID)
	form.Set("line_items[0][price]", params.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	for key, value := range params.Metadata {
		form.Set("metadata["+key+"]", value)
		if params.Mode == "subscription" {
			form.Set("subscription_data[metadata]["+key+"]", value)
		}
	}
	var session CheckoutSession
	err := c.post(ctx, "/v1/checkout/sessions", form, &session)
	return session, err
}

func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	var session CheckoutSession
	err := c.get(ctx, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &session)
	return session, err
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	var sub Subscription
	err := c.get(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, &sub)
	return sub, err
}

// ListSubscriptions returns the customer's subscriptions in every lifecycle
// state, most recent first.
func (c *Client) ListSubscriptions(ctx context.Context, customerID string, limit int) ([]Subscription, error) {
	if limit <= 0 {
		limit = 10
	}
	query := url.Values{}
	query.Set("customer", customerID)
	query.Set("status", "all")
	query.Set("limit", strconv.Itoa(limit))
	var list struct {
		Data []Subscription `json:"data"`
	}
	if err := c.get(ctx, "/v1/subscriptions", query, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("stripe secret key not configured")
	}
	req.SetBasicAuth(c.SecretKey, "")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var wrapper struct {
			Error *Error `json:"error"`
		}
		if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil {
			apiErr.Type = wrapper.Error.Type
			apiErr.Code = wrapper.Error.Code
			apiErr.Message = wrapper.Error.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
