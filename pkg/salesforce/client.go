// Package salesforce mirrors leads into Salesforce as Accounts and Contacts.
package salesforce

import (
	"context"
	"maps"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// collectionLimit is the most records one sObject Collections call takes.
const collectionLimit = 200

// Client is the slice of the REST API the lead sink needs.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	Create(ctx context.Context, object string, fields map[string]any) (string, error)
	Update(ctx context.Context, object, id string, fields map[string]any) error
	CreateMany(ctx context.Context, object string, records []map[string]any) ([]Result, error)
}

// Result is the per-record outcome of CreateMany.
type Result struct {
	ID      string
	Success bool
	Errors  []string
}

// Creds are JWT bearer-flow credentials for a connected app.
type Creds struct {
	LoginURL   string
	Username   string
	ClientID   string
	PrivateKey string // PEM
	// RequestsPerSec throttles API calls; 0 leaves them unthrottled.
	RequestsPerSec float64
}

// Option configures a Client.
type Option func(*org)

// WithRateLimit throttles calls to rps with a burst of about one second.
func WithRateLimit(rps float64) Option {
	return func(o *org) {
		o.limiter = nil
		if rps > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// org is an authenticated session. go-salesforce takes no context, so ctx
// only bounds the throttle wait.
type org struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient wraps an authenticated go-salesforce session.
func NewClient(sf *salesforce.Salesforce, opts ...Option) Client {
	o := &org{sf: sf}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Connect logs in with the JWT bearer flow.
func Connect(creds Creds) (Client, error) {
	switch {
	case creds.ClientID == "" || creds.Username == "":
		return nil, eris.New("salesforce: client id and username are required")
	case creds.PrivateKey == "":
		return nil, eris.New("salesforce: private key is required")
	}
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         creds.LoginURL,
		Username:       creds.Username,
		ConsumerKey:    creds.ClientID,
		ConsumerRSAPem: creds.PrivateKey,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "salesforce: login as %s", creds.Username)
	}
	return NewClient(sf, WithRateLimit(creds.RequestsPerSec)), nil
}

func (o *org) throttle(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	return eris.Wrap(o.limiter.Wait(ctx), "salesforce: rate limit")
}

func (o *org) Query(ctx context.Context, soql string, out any) error {
	if err := o.throttle(ctx); err != nil {
		return err
	}
	return eris.Wrap(o.sf.Query(soql, out), "salesforce: query")
}

func (o *org) Create(ctx context.Context, object string, fields map[string]any) (string, error) {
	if err := o.throttle(ctx); err != nil {
		return "", err
	}
	res, err := o.sf.InsertOne(object, fields)
	switch {
	case err != nil:
		return "", eris.Wrapf(err, "salesforce: create %s", object)
	case !res.Success:
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, e.Message)
		}
		return "", eris.Errorf("salesforce: create %s rejected: %v", object, msgs)
	}
	return res.Id, nil
}

func (o *org) Update(ctx context.Context, object, id string, fields map[string]any) error {
	if err := o.throttle(ctx); err != nil {
		return err
	}
	rec := maps.Clone(fields)
	if rec == nil {
		rec = map[string]any{}
	}
	rec["Id"] = id
	return eris.Wrapf(o.sf.UpdateOne(object, rec), "salesforce: update %s %s", object, id)
}

func (o *org) CreateMany(ctx context.Context, object string, records []map[string]any) ([]Result, error) {
	if err := o.throttle(ctx); err != nil {
		return nil, err
	}
	res, err := o.sf.InsertCollection(object, records, collectionLimit)
	if err != nil {
		return nil, eris.Wrapf(err, "salesforce: create %d %s", len(records), object)
	}
	out := make([]Result, len(res.Results))
	for i, r := range res.Results {
		out[i] = Result{ID: r.Id, Success: r.Success}
		for _, e := range r.Errors {
			out[i].Errors = append(out[i].Errors, e.Message)
		}
	}
	return out, nil
}
