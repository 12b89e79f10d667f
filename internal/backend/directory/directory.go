// Package directory implements the search adapter for the LDAP directory
// service.
package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/people-lookup/internal/backend"
	"github.com/sells-group/people-lookup/internal/model"
)

// minTermLength applies because directory search is substring matching.
const minTermLength = 3

// Attributes requested from the directory for every match.
var searchAttributes = []string{
	"mail", "displayName", "cn", "givenName", "sn",
	"title", "department", "l", "manager",
	"telephoneNumber", "mobile", "otherTelephone",
}

// Config holds directory connection settings.
type Config struct {
	URL          string
	BindDN       string
	BindPassword string
	BaseDN       string
	Timeout      time.Duration
	SizeLimit    int
}

// conn is the subset of *ldap.Conn the adapter uses, split out so tests
// can substitute a fake without a live directory.
type conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// Adapter searches the directory service.
type Adapter struct {
	cfg  Config
	dial func(ctx context.Context) (conn, error)
}

// New creates a directory adapter.
func New(cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SizeLimit <= 0 {
		cfg.SizeLimit = 50
	}
	a := &Adapter{cfg: cfg}
	a.dial = func(ctx context.Context) (conn, error) {
		deadline := cfg.Timeout
		if dl, ok := ctx.Deadline(); ok {
			if until := time.Until(dl); until < deadline {
				deadline = until
			}
		}
		c, err := ldap.DialURL(cfg.URL, ldap.DialWithDialer(&net.Dialer{Timeout: deadline}))
		if err != nil {
			return nil, err
		}
		c.SetTimeout(deadline)
		return c, nil
	}
	return a
}

func (a *Adapter) Name() model.Backend {
	return model.BackendDirectory
}

func (a *Adapter) MinTermLength() int {
	return minTermLength
}

// Search binds and runs one substring search per call. The directory
// protocol offers no mid-flight cancellation; the connection deadline
// bounds how long a call can outlive its context.
func (a *Adapter) Search(ctx context.Context, term string) ([]model.PersonRecord, error) {
	if err := backend.CheckTerm(term, minTermLength); err != nil {
		return nil, backend.NewError(a.Name(), backend.FailInvalidQuery, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, backend.Classify(a.Name(), err)
	}

	c, err := a.dial(ctx)
	if err != nil {
		return nil, backend.Classify(a.Name(), eris.Wrap(err, "directory: dial"))
	}
	defer c.Close()

	if err := c.Bind(a.cfg.BindDN, a.cfg.BindPassword); err != nil {
		return nil, classifyLDAP(a.Name(), eris.Wrap(err, "directory: bind"))
	}

	req := ldap.NewSearchRequest(
		a.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		a.cfg.SizeLimit,
		int(a.cfg.Timeout.Seconds()),
		false,
		buildFilter(term),
		searchAttributes,
		nil,
	)

	res, err := c.Search(req)
	if err != nil {
		return nil, classifyLDAP(a.Name(), eris.Wrap(err, "directory: search"))
	}

	records := make([]model.PersonRecord, 0, len(res.Entries))
	for _, entry := range res.Entries {
		rec, ok := entryToRecord(entry)
		if !ok {
			zap.L().Debug("directory entry without mail skipped", zap.String("dn", entry.DN))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// buildFilter escapes the term for LDAP filter syntax and matches it as a
// substring across the name, mail, and phone attributes.
func buildFilter(term string) string {
	esc := ldap.EscapeFilter(term)
	return fmt.Sprintf(
		"(&(objectClass=person)(|(cn=*%[1]s*)(displayName=*%[1]s*)(sn=*%[1]s*)(mail=*%[1]s*)(telephoneNumber=*%[1]s*)))",
		esc,
	)
}

func entryToRecord(entry *ldap.Entry) (model.PersonRecord, bool) {
	mail := entry.GetAttributeValue("mail")
	key := model.IdentityKeyFrom(mail)
	if key == "" {
		return model.PersonRecord{}, false
	}

	fields := make(map[string]model.FieldValue)
	put := func(name, attr string) {
		if v := entry.GetAttributeValue(attr); v != "" {
			fields[name] = model.FieldValue{Value: v, Source: model.BackendDirectory}
		}
	}
	put(model.FieldEmail, "mail")
	put(model.FieldDisplayName, "displayName")
	put(model.FieldGivenName, "givenName")
	put(model.FieldSurname, "sn")
	put(model.FieldTitle, "title")
	put(model.FieldDepartment, "department")
	put(model.FieldLocation, "l")
	put(model.FieldManager, "manager")
	if _, ok := fields[model.FieldDisplayName]; !ok {
		put(model.FieldDisplayName, "cn")
	}

	var phones []model.RawPhone
	addPhones := func(attr, kindAttr string) {
		for _, raw := range entry.GetAttributeValues(attr) {
			if raw != "" {
				phones = append(phones, model.RawPhone{Raw: raw, Attribute: kindAttr, Source: model.BackendDirectory})
			}
		}
	}
	addPhones("telephoneNumber", model.PhoneAttrTelephone)
	addPhones("mobile", model.PhoneAttrMobile)
	addPhones("otherTelephone", model.PhoneAttrOffice)

	return model.PersonRecord{
		SourceID:    entry.DN,
		Backend:     model.BackendDirectory,
		IdentityKey: key,
		Fields:      fields,
		Phones:      phones,
	}, true
}

// classifyLDAP maps LDAP result codes onto the failure taxonomy before
// falling back to generic classification.
func classifyLDAP(b model.Backend, err error) *backend.Error {
	var lerr *ldap.Error
	if errors.As(err, &lerr) {
		switch lerr.ResultCode {
		case ldap.LDAPResultInvalidCredentials, ldap.LDAPResultInsufficientAccessRights:
			return backend.NewError(b, backend.FailAuth, err)
		case ldap.LDAPResultTimeLimitExceeded:
			return backend.NewError(b, backend.FailTimeout, err)
		case ldap.LDAPResultFilterError:
			return backend.NewError(b, backend.FailInvalidQuery, err)
		case ldap.ErrorNetwork:
			return backend.NewError(b, backend.FailUnavailable, err)
		}
	}
	return backend.Classify(b, err)
}
