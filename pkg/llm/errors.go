package llm

import (
	"errors"
	"strconv"
	"strings"
)

// FailureClass categorizes a provider error for the router's selection and
// quota logic.
type FailureClass int

const (
	// FailureTransient covers network errors and 5xx. The router does not
	// retry the same provider; it moves on to the next one for this call.
	FailureTransient FailureClass = iota
	// FailureQuotaExhausted covers HTTP 429 and any "quota"/
	// "resource_exhausted"/"rate limit" error text. The router counts it
	// as an error in the provider's usage row and moves on to the next
	// provider; it does not mark the provider exhausted, so a later call
	// tries it again unless its daily request limit is already used up.
	FailureQuotaExhausted
	// FailureAuth covers 401/403 — never retried, provider marked unavailable.
	FailureAuth
	// FailureBadRequest covers malformed requests — never retried.
	FailureBadRequest
	// FailureUnknown is the default for unclassified errors.
	FailureUnknown
)

// ErrNoProvidersAvailable is returned by Router.Chat when every candidate
// provider was filtered out, exhausted, or failed.
var ErrNoProvidersAvailable = errors.New("no_providers_available")

// ErrEmptyResponse signals a provider call that succeeded but returned no
// text and no tool calls — the worker's escalation trigger.
var ErrEmptyResponse = errors.New("empty_response")

// ClassifyFailure inspects err's text for status codes and known failure
// keywords. Provider adapters are expected to wrap the underlying SDK
// error with enough context (status code, "quota", "rate limit") for this
// to work without needing per-SDK type switches here.
func ClassifyFailure(err error) FailureClass {
	if err == nil {
		return FailureUnknown
	}
	msg := strings.ToLower(err.Error())

	if code := extractStatusCode(msg); code != 0 {
		switch {
		case code == 429:
			return FailureQuotaExhausted
		case code == 401 || code == 403:
			return FailureAuth
		case code == 400:
			return FailureBadRequest
		case code >= 500:
			return FailureTransient
		}
	}

	switch {
	case strings.Contains(msg, "quota"), strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "rate limit"):
		return FailureQuotaExhausted
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "auth"), strings.Contains(msg, "api key"):
		return FailureAuth
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return FailureBadRequest
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"), strings.Contains(msg, "eof"), strings.Contains(msg, "reset"):
		return FailureTransient
	default:
		return FailureUnknown
	}
}

// ExhaustsQuota reports whether err is a FailureQuotaExhausted failure
// (HTTP 429, "quota", "resource_exhausted", "rate limit").
func ExhaustsQuota(err error) bool {
	return ClassifyFailure(err) == FailureQuotaExhausted
}

func extractStatusCode(msg string) int {
	for _, token := range strings.Fields(msg) {
		token = strings.Trim(token, ":,()[]")
		if len(token) == 3 {
			if code, err := strconv.Atoi(token); err == nil && code >= 100 && code < 600 {
				return code
			}
		}
	}
	return 0
}
