// Package jql implements a whitelist validator for the subset of Jira
// Query Language this bridge is permitted to forward upstream. Nothing
// here talks to the network; Validate either returns a normalized query
// string or a descriptive error naming the first offending token.
package jql

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xray-tool-bridge/core/internal/xrayerrors"
)

// maxLength is a character count, enforced before tokenization so an
// oversized query is rejected without being tokenized.
const maxLength = 4096

var allowedFields = map[string]bool{
	"project": true, "issuetype": true, "status": true, "summary": true,
	"description": true, "assignee": true, "reporter": true, "created": true,
	"updated": true, "resolved": true, "resolution": true, "priority": true,
	"labels": true, "fixversion": true, "affectedversion": true,
	"component": true, "key": true, "id": true, "text": true,
}

var allowedFunctions = map[string]bool{
	"currentuser": true, "now": true,
	"startofday": true, "endofday": true,
	"startofweek": true, "endofweek": true,
	"startofmonth": true, "endofmonth": true,
	"startofyear": true, "endofyear": true,
}

var comparisonOps = map[string]bool{
	"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"~": true, "!~": true,
}

// Validator checks JQL strings against the whitelist grammar.
type Validator struct{}

// NewValidator constructs a Validator. It carries no state; every call
// is independent and safe for concurrent use.
func NewValidator() *Validator { return &Validator{} }

// Validate checks jqlText against the whitelist grammar and returns a
// normalized form (collapsed whitespace, consistent token spacing) on
// success. Validate is idempotent: Validate(Validate(x)) == Validate(x).
func (v *Validator) Validate(jqlText string) (string, error) {
	if len(jqlText) == 0 {
		return "", &xrayerrors.ValidationError{Reason: "jql must not be empty"}
	}
	if utf8.RuneCountInString(jqlText) > maxLength {
		return "", &xrayerrors.ValidationError{Reason: fmt.Sprintf("jql exceeds maximum length of %d characters", maxLength)}
	}

	toks, err := tokenize(jqlText)
	if err != nil {
		return "", &xrayerrors.ValidationError{Reason: err.Error()}
	}

	p := &parser{tokens: toks}
	if err := p.parseClause(); err != nil {
		return "", &xrayerrors.ValidationError{Reason: err.Error()}
	}
	if p.cur().kind != tokEOF {
		return "", &xrayerrors.ValidationError{Reason: fmt.Sprintf("unexpected token %q at position %d", p.cur().text, p.cur().pos)}
	}

	return p.render(), nil
}

type parser struct {
	tokens []token
	pos    int
	out    []piece
}

// piece is one rendered token plus whether a space belongs before it.
type piece struct {
	text       string
	spaceBefore bool
}

func (p *parser) cur() token  { return p.tokens[p.pos] }
func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *parser) emit(t token, spaceBefore bool) {
	p.out = append(p.out, piece{text: t.text, spaceBefore: spaceBefore})
}

func (p *parser) render() string {
	var sb strings.Builder
	for i, pc := range p.out {
		if i > 0 && pc.spaceBefore {
			sb.WriteByte(' ')
		}
		sb.WriteString(pc.text)
	}
	return sb.String()
}

func errAt(t token, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s at position %d (token %q)", msg, t.pos, t.text)
}

// parseClause := orExpr (orderByClause)?
func (p *parser) parseClause() error {
	if err := p.parseOrExpr(); err != nil {
		return err
	}
	if p.cur().kind == tokIdent && p.cur().lower() == "order" {
		return p.parseOrderBy()
	}
	return nil
}

func (p *parser) parseOrderBy() error {
	orderTok := p.advance() // "order"
	p.emit(orderTok, true)

	if p.cur().kind != tokIdent || p.cur().lower() != "by" {
		return errAt(p.cur(), "expected 'by' after 'order'")
	}
	p.emit(p.advance(), true)

	for {
		if p.cur().kind != tokIdent {
			return errAt(p.cur(), "expected field name in order by clause")
		}
		field := p.advance()
		if !allowedFields[field.lower()] {
			return errAt(field, "field %q is not permitted", field.text)
		}
		p.emit(field, true)

		if p.cur().kind == tokIdent && (p.cur().lower() == "asc" || p.cur().lower() == "desc") {
			p.emit(p.advance(), true)
		}

		if p.cur().kind == tokComma {
			p.emit(p.advance(), false)
			continue
		}
		break
	}
	return nil
}

// parseOrExpr := andExpr ('or' andExpr)*
func (p *parser) parseOrExpr() error {
	if err := p.parseAndExpr(); err != nil {
		return err
	}
	for p.cur().kind == tokIdent && p.cur().lower() == "or" {
		p.emit(p.advance(), true)
		if err := p.parseAndExpr(); err != nil {
			return err
		}
	}
	return nil
}

// parseAndExpr := unary ('and' unary)*
func (p *parser) parseAndExpr() error {
	if err := p.parseUnary(); err != nil {
		return err
	}
	for p.cur().kind == tokIdent && p.cur().lower() == "and" {
		p.emit(p.advance(), true)
		if err := p.parseUnary(); err != nil {
			return err
		}
	}
	return nil
}

// parseUnary := 'not' unary | '(' orExpr ')' | condition
func (p *parser) parseUnary() error {
	if p.cur().kind == tokIdent && p.cur().lower() == "not" {
		p.emit(p.advance(), true)
		return p.parseUnary()
	}
	if p.cur().kind == tokLParen {
		p.emit(p.advance(), true)
		if err := p.parseOrExpr(); err != nil {
			return err
		}
		if p.cur().kind != tokRParen {
			return errAt(p.cur(), "expected closing parenthesis")
		}
		p.emit(p.advance(), true)
		return nil
	}
	return p.parseCondition()
}

// parseCondition := field ( 'changed' | wasCond | isCond | inCond | cmpCond )
func (p *parser) parseCondition() error {
	if p.cur().kind != tokIdent {
		return errAt(p.cur(), "expected field name, keyword, or '('")
	}
	field := p.advance()
	if !allowedFields[field.lower()] {
		return errAt(field, "field %q is not permitted", field.text)
	}
	p.emit(field, true)

	switch {
	case p.cur().kind == tokIdent && p.cur().lower() == "changed":
		p.emit(p.advance(), true)
		return nil

	case p.cur().kind == tokIdent && p.cur().lower() == "was":
		p.emit(p.advance(), true)
		if p.cur().kind == tokIdent && p.cur().lower() == "not" {
			p.emit(p.advance(), true)
		}
		return p.parseValue()

	case p.cur().kind == tokIdent && p.cur().lower() == "is":
		p.emit(p.advance(), true)
		if p.cur().kind == tokIdent && p.cur().lower() == "not" {
			p.emit(p.advance(), true)
		}
		if p.cur().kind != tokIdent || (p.cur().lower() != "empty" && p.cur().lower() != "null") {
			return errAt(p.cur(), "expected 'empty' or 'null' after 'is'")
		}
		p.emit(p.advance(), true)
		return nil

	case p.cur().kind == tokIdent && p.cur().lower() == "in":
		p.emit(p.advance(), true)
		return p.parseInList()

	case p.cur().kind == tokIdent && p.cur().lower() == "not":
		p.emit(p.advance(), true)
		if p.cur().kind != tokIdent || p.cur().lower() != "in" {
			return errAt(p.cur(), "expected 'in' after 'not'")
		}
		p.emit(p.advance(), true)
		return p.parseInList()

	case p.cur().kind == tokOp:
		op := p.advance()
		if !comparisonOps[op.text] {
			return errAt(op, "operator %q is not permitted", op.text)
		}
		p.emit(op, true)
		return p.parseValue()

	default:
		return errAt(p.cur(), "expected an operator or keyword after field %q", field.text)
	}
}

func (p *parser) parseInList() error {
	if p.cur().kind != tokLParen {
		return errAt(p.cur(), "expected '(' to open value list")
	}
	p.emit(p.advance(), true)

	for {
		if err := p.parseValue(); err != nil {
			return err
		}
		if p.cur().kind == tokComma {
			p.emit(p.advance(), false)
			continue
		}
		break
	}

	if p.cur().kind != tokRParen {
		return errAt(p.cur(), "expected ')' to close value list")
	}
	p.emit(p.advance(), true)
	return nil
}

// parseValue := string | number | duration | functionCall | bareIdent
func (p *parser) parseValue() error {
	switch p.cur().kind {
	case tokString, tokNumber, tokDuration:
		p.emit(p.advance(), true)
		return nil

	case tokIdent:
		ident := p.advance()
		if p.cur().kind == tokLParen {
			if !allowedFunctions[ident.lower()] {
				return errAt(ident, "function %q is not permitted", ident.text)
			}
			p.emit(ident, true)
			p.emit(p.advance(), false) // '(' glued to function name
			if p.cur().kind != tokRParen {
				argAt := len(p.out)
				if err := p.parseValue(); err != nil {
					return err
				}
				p.out[argAt].spaceBefore = false // argument glued to '('
			}
			if p.cur().kind != tokRParen {
				return errAt(p.cur(), "expected ')' to close function call")
			}
			p.emit(p.advance(), false)
			return nil
		}
		p.emit(ident, true)
		return nil

	default:
		return errAt(p.cur(), "expected a value")
	}
}
