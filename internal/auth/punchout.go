package auth

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/velstra/corecms/internal/metrics"
	"github.com/velstra/corecms/internal/replacer"
	"github.com/velstra/corecms/internal/repository"
)

// setupRequest is the inbound procurement handshake document. Only the
// parts the flow needs are mapped.
type setupRequest struct {
	XMLName xml.Name `xml:"cXML"`
	Header  struct {
		Sender struct {
			Credential struct {
				Identity     string `xml:"Identity"`
				SharedSecret string `xml:"SharedSecret"`
			} `xml:"Credential"`
		} `xml:"Sender"`
	} `xml:"Header"`
	Request struct {
		Setup struct {
			BuyerCookie     string `xml:"BuyerCookie"`
			BrowserFormPost struct {
				URL string `xml:"URL"`
			} `xml:"BrowserFormPost"`
		} `xml:"PunchOutSetupRequest"`
	} `xml:"Request"`
}

// setupResponse is the outbound handshake answer.
type setupResponse struct {
	XMLName  xml.Name `xml:"cXML"`
	Response struct {
		Status struct {
			Code int    `xml:"code,attr"`
			Text string `xml:"text,attr"`
		} `xml:"Status"`
		Setup *setupResponsePayload `xml:"PunchOutSetupResponse,omitempty"`
	} `xml:"Response"`
}

type setupResponsePayload struct {
	StartPage struct {
		URL string `xml:"URL"`
	} `xml:"StartPage"`
}

// SetupResult is the outcome of a handshake: the response document to
// send back and the HTTP status to send it with.
type SetupResult struct {
	Status   int
	Document []byte
}

// PunchOutFlow handles the B2B procurement handshake: a buyer's system
// posts an XML document with an identity and shared secret, and on
// success receives a start-page URL carrying an encrypted session
// reference. The buyer's browser later follows that URL, which the
// login flow's encrypted-identifier path turns into a session.
type PunchOutFlow struct {
	accounts        AccountStore
	sessions        PunchOutStore
	verifier        *Verifier
	codec           *Codec
	lockout         LockoutPolicy
	replaceFunc     replacer.Func
	logger          *slog.Logger
	entityType      string
	startPageURL    string
	validationToken string
}

// NewPunchOutFlow creates a new PunchOutFlow instance. startPageURL is
// a template with {userId}, {token}, and {buyerCookie} placeholders.
func NewPunchOutFlow(accounts AccountStore, sessions PunchOutStore, verifier *Verifier, codec *Codec, lockout LockoutPolicy, replaceFunc replacer.Func, entityType, startPageURL, validationToken string, logger *slog.Logger) *PunchOutFlow {
	return &PunchOutFlow{
		accounts:        accounts,
		sessions:        sessions,
		verifier:        verifier,
		codec:           codec,
		lockout:         lockout,
		replaceFunc:     replaceFunc,
		logger:          logger,
		entityType:      entityType,
		startPageURL:    startPageURL,
		validationToken: validationToken,
	}
}

// HandleSetup authenticates the handshake document and answers with
// 200 plus a start-page URL, or 401 with no URL. Infrastructure faults
// are the only error returns; a bad credential is an expected outcome.
func (f *PunchOutFlow) HandleSetup(ctx context.Context, document []byte) (SetupResult, error) {
	var req setupRequest
	if err := xml.Unmarshal(document, &req); err != nil {
		metrics.PunchOutHandshakes.WithLabelValues("malformed").Inc()
		return f.deny(), nil
	}

	identity := req.Header.Sender.Credential.Identity
	secret := req.Header.Sender.Credential.SharedSecret
	if identity == "" || secret == "" {
		metrics.PunchOutHandshakes.WithLabelValues("denied").Inc()
		return f.deny(), nil
	}

	account, err := f.accounts.GetByLogin(ctx, f.entityType, identity)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.PunchOutHandshakes.WithLabelValues("denied").Inc()
			return f.deny(), nil
		}
		return SetupResult{}, fmt.Errorf("auth: look up punch-out identity: %w", err)
	}
	if !account.HasPassword() {
		metrics.PunchOutHandshakes.WithLabelValues("denied").Inc()
		return f.deny(), nil
	}
	if f.lockout.IsLocked(account.FailedLoginAttempts, account.LastLoginAttempt, time.Now()) {
		metrics.LockoutsTotal.Inc()
		metrics.PunchOutHandshakes.WithLabelValues("denied").Inc()
		return f.deny(), nil
	}

	ok, err := f.verifier.Verify(secret, *account.PasswordHash)
	if err != nil {
		return SetupResult{}, fmt.Errorf("auth: verify shared secret: %w", err)
	}
	if !ok {
		if err := f.accounts.RecordLoginAttempt(ctx, account.ID, false); err != nil {
			f.logger.ErrorContext(ctx, "record failed attempt", slog.String("error", err.Error()))
		}
		metrics.PunchOutHandshakes.WithLabelValues("denied").Inc()
		return f.deny(), nil
	}

	if err := f.accounts.RecordLoginAttempt(ctx, account.ID, true); err != nil {
		return SetupResult{}, err
	}
	buyerCookie := req.Request.Setup.BuyerCookie
	if buyerCookie == "" {
		// Some procurement systems omit the cookie; assign one so the
		// session stays addressable on the return trip.
		buyerCookie = uuid.NewString()
	}
	session := &repository.PunchOutSession{
		AccountID:   account.ID,
		BuyerCookie: buyerCookie,
	}
	if err := f.sessions.Create(ctx, session); err != nil {
		return SetupResult{}, err
	}

	encryptedID, err := f.codec.EncryptWithTimestamp(strconv.FormatUint(account.ID, 10))
	if err != nil {
		return SetupResult{}, err
	}
	startPage := f.replaceFunc(f.startPageURL, map[string]string{
		"userId":      url.QueryEscape(encryptedID),
		"token":       url.QueryEscape(f.validationToken),
		"buyerCookie": url.QueryEscape(session.BuyerCookie),
	})

	metrics.PunchOutHandshakes.WithLabelValues("accepted").Inc()
	f.logger.InfoContext(ctx, "punch-out handshake accepted",
		slog.Uint64("account_id", account.ID))
	return f.accept(startPage), nil
}

func (f *PunchOutFlow) deny() SetupResult {
	var resp setupResponse
	resp.Response.Status.Code = 401
	resp.Response.Status.Text = "Unauthorized"
	return SetupResult{Status: 401, Document: marshalResponse(resp)}
}

func (f *PunchOutFlow) accept(startPage string) SetupResult {
	var resp setupResponse
	resp.Response.Status.Code = 200
	resp.Response.Status.Text = "OK"
	resp.Response.Setup = &setupResponsePayload{}
	resp.Response.Setup.StartPage.URL = startPage
	return SetupResult{Status: 200, Document: marshalResponse(resp)}
}

func marshalResponse(resp setupResponse) []byte {
	out, err := xml.Marshal(resp)
	if err != nil {
		// The response structs contain nothing unmarshalable.
		panic(err)
	}
	return append([]byte(xml.Header), out...)
}
