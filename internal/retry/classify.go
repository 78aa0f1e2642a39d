package retry

import (
	"context"
	"errors"
	"strings"

	"github.com/slok/xferd/internal/model"
)

// Classification is the result of classifying an rclone failure.
type Classification struct {
	Code      model.ErrorCode
	Retryable bool
}

// Message returns the most descriptive message of a failure, stderr if any.
func Message(err error, stderr string) string {
	if msg := strings.TrimSpace(stderr); msg != "" {
		return msg
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

type matcher func(msg string) bool

func contains(subs ...string) matcher {
	return func(msg string) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
}

func all(subs ...string) matcher {
	return func(msg string) bool {
		for _, s := range subs {
			if !strings.Contains(msg, s) {
				return false
			}
		}
		return true
	}
}

func anyOf(ms ...matcher) matcher {
	return func(msg string) bool {
		for _, m := range ms {
			if m(msg) {
				return true
			}
		}
		return false
	}
}

func equals(s string) matcher {
	return func(msg string) bool { return strings.TrimSpace(msg) == s }
}

type rule struct {
	code      model.ErrorCode
	retryable bool
	match     matcher
}

var bucketNotEmpty = anyOf(
	contains("bucketnotempty", "bucket not empty", "directory not empty"),
	all("not empty", "bucket"),
)

// Order matters, some backends say "not found" on config errors and on
// permission errors.
var rules = []rule{
	{code: model.ErrorCodeInvalidConfig, match: anyOf(
		all("didn't find section", "config"),
		all("did not find section", "config"),
		all("section", "not found", "config"),
		contains("unknown backend", "unknown remote", "failed to create file system", "invalid configuration", "bad configuration", "bad config"),
		all("failed to configure", "backend"),
		all("config file", "not found"),
		all("couldn't parse", "config"),
	)},
	{code: model.ErrorCodeSignatureMismatch, match: contains(
		"signaturedoesnotmatch",
		"signature does not match",
		"request signature we calculated does not match",
		"invalid signature",
		"authorizationheader malformed",
	)},
	{code: model.ErrorCodeInvalidCredentials, match: anyOf(
		contains(
			"invalidaccesskeyid",
			"access key id you provided does not exist",
			"invalid access key",
			"invalidtoken",
			"expiredtoken",
			"authenticationfailed",
			"invalidauthenticationinfo",
			"failed to authenticate",
			"invalid_grant",
			"notauthenticated",
			"unauthorized",
			"status 401",
			"error 401",
		),
		all("security token", "invalid"),
		all("oauth2:", "token"),
	)},
	{code: model.ErrorCodeAccessDenied, match: anyOf(
		contains(
			"accessdenied",
			"access denied",
			"permission denied",
			"permissiondenied",
			"forbidden",
			"authorizationpermissionmismatch",
			"notauthorizedornotfound",
			"not authorized",
			"authorizationfailure",
			"authorization failed",
			"account is disabled",
			"insufficientpermissions",
			"status 403",
			"error 403",
		),
		all("does not have", " access"),
	)},
	{code: model.ErrorCodeNotFound, match: contains(
		"nosuchkey",
		"no such key",
		"nosuchbucket",
		"no such bucket",
		"containernotfound",
		"container not found",
		"blobnotfound",
		"blob not found",
		"notfound",
		"the specified container does not exist",
		"the specified bucket does not exist",
		"not found",
		"no such file",
		"status 404",
		"error 404",
		" 404",
	)},
	{code: model.ErrorCodeRequestTimeSkewed, match: contains("request time too skewed", "requesttime")},
	{code: model.ErrorCodeRateLimited, retryable: true, match: anyOf(
		contains(
			"rate limit",
			"too many requests",
			"toomanyrequests",
			"status 429",
			"error 429",
			"slowdown",
			"slow down",
			"requestlimitexceeded",
			"throttl",
			"serverbusy",
			"ratelimitexceeded",
			"resourceexhausted",
		),
		all("quota", "exceed"),
	)},
	{code: model.ErrorCodeConflict, match: anyOf(
		bucketNotEmpty,
		contains("conflict", "already exists", "precondition failed", "status 409", "error 409", "status 412", "error 412"),
	)},
	{code: model.ErrorCodeUpstreamTimeout, retryable: true, match: contains("timeout", "context deadline exceeded")},
	{code: model.ErrorCodeEndpointUnreachable, retryable: true, match: contains(
		"no such host",
		"temporary failure in name resolution",
		"connection refused",
		"connection reset",
		"dial tcp",
		"tls:",
		"x509:",
	)},
	{code: model.ErrorCodeNetworkError, retryable: true, match: anyOf(
		contains("broken pipe", "connection closed", "connection aborted", "unexpected eof", "network error"),
		equals("eof"),
	)},
}

// Classify maps an rclone failure to an error code using the stderr tail and the
// process error. Unknown failures are not retryable.
func Classify(err error, stderr string) Classification {
	if errors.Is(err, context.Canceled) {
		return Classification{Code: model.ErrorCodeCanceled}
	}

	msg := strings.ToLower(Message(err, stderr))
	if strings.TrimSpace(msg) == "" {
		return Classification{Code: model.ErrorCodeUnknown}
	}

	for _, r := range rules {
		if r.match(msg) {
			return Classification{Code: r.code, Retryable: r.retryable}
		}
	}

	return Classification{Code: model.ErrorCodeUnknown}
}

// JobError returns the classified job error of a failed rclone command, what
// names the command (e.g. `rclone sync`).
func JobError(err error, stderr, what string) error {
	msg := Message(err, stderr)
	if msg == "" {
		msg = "rclone failed"
	}
	if what != "" {
		msg = what + ": " + msg
	}
	return model.NewJobError(Classify(err, stderr).Code, msg, err)
}
