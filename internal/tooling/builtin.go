package tooling

import (
	"context"

	"github.com/xray-tool-bridge/core/internal/resolve"
)

// Validator is the subset of jql.Validator the builtin tools depend on.
type Validator interface {
	Validate(jqlText string) (string, error)
}

// Resolver is the subset of resolve.Resolver the builtin tools depend on.
type Resolver interface {
	Resolve(ctx context.Context, key string, hint resolve.Kind) (string, error)
}

// Executor is the subset of graphqlclient.Client the builtin tools depend on.
type Executor interface {
	Execute(ctx context.Context, operation string, variables map[string]any) (map[string]any, error)
}

const getTestOperation = `query GetTest($issueId: String!) {
  getTest(issueId: $issueId) {
    issueId
    testType { name }
    jira(fields: ["key", "summary", "status"])
  }
}`

// GetTest builds the get_test tool: resolves issue_id (hinted as a
// Test) then dispatches the getTest query. Exercises scenario A.
func GetTest(resolver Resolver, gql Executor) Tool {
	return Tool{
		Name: "get_test",
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			issueID, err := stringArg(args, "issue_id")
			if err != nil {
				return nil, err
			}
			numericID, err := resolver.Resolve(ctx, issueID, resolve.KindTest)
			if err != nil {
				return nil, err
			}
			return gql.Execute(ctx, getTestOperation, map[string]any{"issueId": numericID})
		},
	}
}

const getTestsOperation = `query GetTests($jql: String!, $limit: Int!) {
  getTests(jql: $jql, limit: $limit) {
    total
    results { issueId jira(fields: ["key", "summary"]) }
  }
}`

// ExecuteJQLQuery builds the execute_jql_query tool: validates jql
// against the whitelist, clamps limit, then dispatches getTests.
// Exercises scenario C.
func ExecuteJQLQuery(validator Validator, gql Executor) Tool {
	return Tool{
		Name: "execute_jql_query",
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			rawJQL, err := stringArg(args, "jql")
			if err != nil {
				return nil, err
			}
			normalized, err := validator.Validate(rawJQL)
			if err != nil {
				return nil, err
			}
			limit := clampLimit(args["limit"])
			return gql.Execute(ctx, getTestsOperation, map[string]any{"jql": normalized, "limit": limit})
		},
	}
}

const addTestsToExecutionOperation = `mutation AddTestsToExecution($executionIssueId: String!, $testIssueIds: [String]!) {
  addTestsToTestExecution(issueId: $executionIssueId, testIssueIds: $testIssueIds) {
    addedTests
    warning
  }
}`

// AddTestsToExecution builds the add_tests_to_execution tool: resolves
// the execution id with the TestExecution hint and each test id with
// the Test hint. Exercises scenario E.
func AddTestsToExecution(resolver Resolver, gql Executor) Tool {
	return Tool{
		Name: "add_tests_to_execution",
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			executionKey, err := stringArg(args, "execution_issue_id")
			if err != nil {
				return nil, err
			}
			testKeys, err := stringSliceArg(args, "test_issue_ids")
			if err != nil {
				return nil, err
			}

			executionID, err := resolver.Resolve(ctx, executionKey, resolve.KindTestExecution)
			if err != nil {
				return nil, err
			}

			testIDs := make([]string, 0, len(testKeys))
			for _, key := range testKeys {
				id, err := resolver.Resolve(ctx, key, resolve.KindTest)
				if err != nil {
					return nil, err
				}
				testIDs = append(testIDs, id)
			}

			return gql.Execute(ctx, addTestsToExecutionOperation, map[string]any{
				"executionIssueId": executionID,
				"testIssueIds":     testIDs,
			})
		},
	}
}

const updateTestOperation = `mutation UpdateTest($issueId: String!, $jiraFields: JSON) {
  updateTestType(issueId: $issueId, jira: $jiraFields) {
    warnings
  }
}`

// UpdateTest builds the update_test tool: resolves issue_id and
// accepts jira_fields as either a parsed object or a JSON string.
// Exercises scenario F.
func UpdateTest(resolver Resolver, gql Executor) Tool {
	return Tool{
		Name: "update_test",
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			issueKey, err := stringArg(args, "issue_id")
			if err != nil {
				return nil, err
			}
			arg, err := jsonArgFromAny(args["jira_fields"])
			if err != nil {
				return nil, err
			}
			fields, err := arg.Map()
			if err != nil {
				return nil, err
			}

			numericID, err := resolver.Resolve(ctx, issueKey, resolve.KindTest)
			if err != nil {
				return nil, err
			}

			return gql.Execute(ctx, updateTestOperation, map[string]any{
				"issueId":    numericID,
				"jiraFields": fields,
			})
		},
	}
}
