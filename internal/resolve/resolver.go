// Package resolve translates user-facing Xray issue keys into the
// numeric issue ids the GraphQL schema requires, trying each resource
// kind's dedicated lookup query in turn and caching what it learns for
// the life of the process.
package resolve

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/xray-tool-bridge/core/internal/xrayerrors"
)

// Kind is one of the five resource kinds Xray exposes a distinct
// lookup query for.
type Kind string

const (
	KindTest            Kind = "Test"
	KindTestSet         Kind = "TestSet"
	KindTestExecution   Kind = "TestExecution"
	KindTestPlan        Kind = "TestPlan"
	KindCoverableIssue  Kind = "CoverableIssue"
)

// fallbackOrder is tried, in this order, after any hinted kind has
// already been tried and missed.
var fallbackOrder = []Kind{KindTest, KindTestSet, KindTestExecution, KindTestPlan, KindCoverableIssue}

var lookupQuery = map[Kind]string{
	KindTest:           "getTests",
	KindTestSet:        "getTestSets",
	KindTestExecution:  "getTestExecutions",
	KindTestPlan:       "getTestPlans",
	KindCoverableIssue: "getCoverableIssues",
}

var numericKey = regexp.MustCompile(`^\d+$`)
var resourceKey = regexp.MustCompile(`^[A-Z][A-Z0-9_]*-\d+$`)

// Executor is the subset of graphqlclient.Client the resolver depends
// on, narrowed for testability.
type Executor interface {
	Execute(ctx context.Context, operation string, variables map[string]any) (map[string]any, error)
}

// ResolvedID is a numeric id plus the kind it was resolved under.
type ResolvedID struct {
	ID   string
	Kind Kind
}

type cacheKey struct {
	key  string
	hint Kind
}

// Resolver resolves keys to numeric ids with a process-lifetime cache.
type Resolver struct {
	gql Executor

	mu    sync.RWMutex
	cache map[cacheKey]ResolvedID
}

// New constructs a Resolver backed by gql.
func New(gql Executor) *Resolver {
	return &Resolver{gql: gql, cache: make(map[cacheKey]ResolvedID)}
}

// Resolve returns the numeric id for key, consulting hint (if any) to
// order the lookup attempts. hint == "" means no hint was supplied.
func (r *Resolver) Resolve(ctx context.Context, key string, hint Kind) (string, error) {
	if numericKey.MatchString(key) {
		return key, nil
	}
	if !resourceKey.MatchString(key) {
		return "", &xrayerrors.ValidationError{Field: "key", Reason: fmt.Sprintf("%q is not a valid resource key", key)}
	}

	if id, ok := r.lookupCache(key, hint); ok {
		return id.ID, nil
	}

	order := resolutionOrder(hint)
	for _, kind := range order {
		id, found, err := r.lookupUpstream(ctx, key, kind)
		if err != nil {
			return "", err
		}
		if found {
			resolved := ResolvedID{ID: id, Kind: kind}
			r.store(key, hint, resolved)
			return id, nil
		}
	}

	return "", &xrayerrors.ResolutionError{Key: key}
}

func resolutionOrder(hint Kind) []Kind {
	if hint == "" {
		return fallbackOrder
	}
	order := make([]Kind, 0, len(fallbackOrder)+1)
	order = append(order, hint)
	for _, k := range fallbackOrder {
		if k != hint {
			order = append(order, k)
		}
	}
	return order
}

func (r *Resolver) lookupCache(key string, hint Kind) (ResolvedID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.cache[cacheKey{key: key, hint: hint}]; ok {
		return id, true
	}
	if id, ok := r.cache[cacheKey{key: key, hint: ""}]; ok {
		return id, true
	}
	return ResolvedID{}, false
}

func (r *Resolver) store(key string, hint Kind, resolved ResolvedID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[cacheKey{key: key, hint: hint}] = resolved
	r.cache[cacheKey{key: key, hint: resolved.Kind}] = resolved
}

func (r *Resolver) lookupUpstream(ctx context.Context, key string, kind Kind) (string, bool, error) {
	query := lookupQuery[kind]
	operation := fmt.Sprintf(
		`query { %s(jql: "key = \"%s\"", limit: 1) { results { issueId } } }`,
		query, key,
	)

	data, err := r.gql.Execute(ctx, operation, nil)
	if err != nil {
		return "", false, err
	}

	root, ok := data[query].(map[string]any)
	if !ok {
		return "", false, nil
	}
	results, ok := root["results"].([]any)
	if !ok || len(results) == 0 {
		return "", false, nil
	}
	first, ok := results[0].(map[string]any)
	if !ok {
		return "", false, nil
	}
	id, ok := first["issueId"].(string)
	if !ok || id == "" {
		return "", false, nil
	}
	return id, true, nil
}
