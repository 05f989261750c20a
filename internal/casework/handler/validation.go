package handler

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/jmerrifield20/caseledger/internal/identity"
	"github.com/jmerrifield20/caseledger/pkg/ids"
	"github.com/microcosm-cc/bluemonday"
)

var (
	registerOnce sync.Once
	registerErr  error
	strict       = bluemonday.StrictPolicy()
)

// RegisterValidators adds the "party", "caseid" and "logid" tags to gin's
// validator. It must succeed before any handler binds a request; later calls
// return the first result.
func RegisterValidators() error {
	registerOnce.Do(func() {
		registerErr = registerValidators(binding.Validator.Engine())
	})
	return registerErr
}

func registerValidators(engine any) error {
	v, ok := engine.(*validator.Validate)
	if !ok {
		return fmt.Errorf("register validators: unsupported validator engine %T", engine)
	}
	tags := map[string]validator.Func{
		"party": func(fl validator.FieldLevel) bool {
			return ids.ValidateParty(fl.Field().String()) == nil
		},
		"caseid": func(fl validator.FieldLevel) bool {
			_, err := ids.ParseCaseID(fl.Field().String())
			return err == nil
		},
		"logid": func(fl validator.FieldLevel) bool {
			_, err := ids.ParseLogID(fl.Field().String())
			return err == nil
		},
	}
	for tag, fn := range tags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %q validator: %w", tag, err)
		}
	}
	return nil
}

// caseURI binds the :case_id path parameter.
type caseURI struct {
	CaseID string `uri:"case_id" binding:"required,caseid"`
}

// logURI binds the :case_id and :log_id path parameters.
type logURI struct {
	CaseID string `uri:"case_id" binding:"required,caseid"`
	LogID  string `uri:"log_id"  binding:"required,logid"`
}

var errLogNotInCase = errors.New("log does not belong to this case")

// bindLogURI binds both path parameters and checks that the log ID is
// scoped to the case ID.
func bindLogURI(c *gin.Context) (logURI, error) {
	var u logURI
	if err := c.ShouldBindUri(&u); err != nil {
		return u, err
	}
	ref, err := ids.ParseLogID(u.LogID)
	if err != nil {
		return u, err
	}
	if ref.CaseID != u.CaseID {
		return u, errLogNotInCase
	}
	return u, nil
}

// sanitize strips all markup from free text before it is stored and hashed.
// Entities are decoded once up front so encoded tags are stripped as well;
// the result keeps the policy's escaping and is safe to embed in HTML.
func sanitize(s string) string {
	return strings.TrimSpace(strict.Sanitize(html.UnescapeString(s)))
}

// principal returns the authenticated caller. Routes are mounted behind
// identity.RequireSession so the principal is always present.
func principal(c *gin.Context) identity.Principal {
	p, _ := identity.PrincipalFromCtx(c)
	return p
}
