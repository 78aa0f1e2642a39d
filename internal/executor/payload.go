package executor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/rclone"
)

// Payload is the parsed and validated payload of a job type.
type Payload interface {
	JobType() model.JobType
}

// SyncLocalToS3Payload uploads a local directory to a bucket prefix.
type SyncLocalToS3Payload struct {
	Bucket           string
	Prefix           string
	LocalPath        string
	DeleteExtraneous bool
	DryRun           bool
	Include          []string
	Exclude          []string
}

func (SyncLocalToS3Payload) JobType() model.JobType { return model.JobTypeTransferSyncLocalToS3 }

// SyncS3ToLocalPayload downloads a bucket prefix to a local directory.
type SyncS3ToLocalPayload struct {
	Bucket           string
	Prefix           string
	LocalPath        string
	DeleteExtraneous bool
	DryRun           bool
	Include          []string
	Exclude          []string
}

func (SyncS3ToLocalPayload) JobType() model.JobType { return model.JobTypeTransferSyncS3ToLocal }

// SyncStagingToS3Payload commits an upload session staging directory.
type SyncStagingToS3Payload struct {
	UploadID string
}

func (SyncStagingToS3Payload) JobType() model.JobType { return model.JobTypeTransferSyncStagingToS3 }

// DeletePrefixPayload deletes the objects under a prefix, or the whole bucket.
type DeletePrefixPayload struct {
	Bucket            string
	Prefix            string
	DeleteAll         bool
	DryRun            bool
	AllowUnsafePrefix bool
	Include           []string
	Exclude           []string
}

func (DeletePrefixPayload) JobType() model.JobType { return model.JobTypeTransferDeletePrefix }

// CopyMoveObjectPayload copies or moves a single object.
type CopyMoveObjectPayload struct {
	Move      bool
	SrcBucket string
	SrcKey    string
	DstBucket string
	DstKey    string
	DryRun    bool
}

func (p CopyMoveObjectPayload) JobType() model.JobType {
	if p.Move {
		return model.JobTypeTransferMoveObject
	}
	return model.JobTypeTransferCopyObject
}

// BatchItem is a single object of a batch.
type BatchItem struct {
	SrcKey string
	DstKey string
}

// CopyMoveBatchPayload copies or moves a list of objects between two buckets.
type CopyMoveBatchPayload struct {
	Move      bool
	SrcBucket string
	DstBucket string
	Items     []BatchItem
	DryRun    bool
}

func (p CopyMoveBatchPayload) JobType() model.JobType {
	if p.Move {
		return model.JobTypeTransferMoveBatch
	}
	return model.JobTypeTransferCopyBatch
}

// CopyMovePrefixPayload copies or moves all the objects under a prefix.
type CopyMovePrefixPayload struct {
	Move      bool
	SrcBucket string
	SrcPrefix string
	DstBucket string
	DstPrefix string
	DryRun    bool
	Include   []string
	Exclude   []string
}

func (p CopyMovePrefixPayload) JobType() model.JobType {
	if p.Move {
		return model.JobTypeTransferMovePrefix
	}
	return model.JobTypeTransferCopyPrefix
}

// ZipPrefixPayload zips all the objects under a prefix.
type ZipPrefixPayload struct {
	Bucket string
	Prefix string
}

func (ZipPrefixPayload) JobType() model.JobType { return model.JobTypeS3ZipPrefix }

// ZipObjectsPayload zips a list of object keys. Keys are normalized, unique and sorted.
type ZipObjectsPayload struct {
	Bucket      string
	Keys        []string
	StripPrefix string
}

func (ZipObjectsPayload) JobType() model.JobType { return model.JobTypeS3ZipObjects }

// DeleteObjectsPayload deletes a list of object keys.
type DeleteObjectsPayload struct {
	Bucket string
	Keys   []string
}

func (DeleteObjectsPayload) JobType() model.JobType { return model.JobTypeS3DeleteObjects }

// IndexObjectsPayload indexes the objects of a bucket prefix.
type IndexObjectsPayload struct {
	Bucket      string
	Prefix      string
	FullReindex bool
}

func (IndexObjectsPayload) JobType() model.JobType { return model.JobTypeS3IndexObjects }

const (
	// MaxZipKeys is the max number of keys of a keys zip.
	MaxZipKeys = 10_000
)

// ParseOpts are the profile dependent options of the payload parsing.
type ParseOpts struct {
	PreserveLeadingSlash bool
}

// ParsePayload parses and validates the raw payload of a job type. All the
// returned errors are validation errors.
func ParsePayload(t model.JobType, raw map[string]any, opts ParseOpts) (Payload, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	pr := payloadReader{raw: raw}

	var (
		p   Payload
		err error
	)
	switch t {
	case model.JobTypeTransferSyncLocalToS3:
		p, err = parseSyncLocalToS3(pr, opts)
	case model.JobTypeTransferSyncS3ToLocal:
		p, err = parseSyncS3ToLocal(pr, opts)
	case model.JobTypeTransferSyncStagingToS3:
		p, err = parseSyncStagingToS3(pr)
	case model.JobTypeTransferDeletePrefix:
		p, err = parseDeletePrefix(pr, opts)
	case model.JobTypeTransferCopyObject, model.JobTypeTransferMoveObject:
		p, err = parseCopyMoveObject(pr, opts, t == model.JobTypeTransferMoveObject)
	case model.JobTypeTransferCopyBatch, model.JobTypeTransferMoveBatch:
		p, err = parseCopyMoveBatch(pr, opts, t == model.JobTypeTransferMoveBatch)
	case model.JobTypeTransferCopyPrefix, model.JobTypeTransferMovePrefix:
		p, err = parseCopyMovePrefix(pr, opts, t == model.JobTypeTransferMovePrefix)
	case model.JobTypeS3ZipPrefix:
		p, err = parseZipPrefix(pr, opts)
	case model.JobTypeS3ZipObjects:
		p, err = parseZipObjects(pr, opts)
	case model.JobTypeS3DeleteObjects:
		p, err = parseDeleteObjects(pr, opts)
	case model.JobTypeS3IndexObjects:
		p, err = parseIndexObjects(pr)
	default:
		return nil, model.NewValidationError("unsupported job type %q", t)
	}
	if err != nil {
		return nil, err
	}

	return p, nil
}

func parseSyncLocalToS3(pr payloadReader, opts ParseOpts) (Payload, error) {
	p := SyncLocalToS3Payload{
		Bucket:           strings.TrimSpace(pr.str("bucket")),
		Prefix:           rclone.NormalizePathInput(pr.str("prefix"), opts.PreserveLeadingSlash),
		LocalPath:        strings.TrimSpace(pr.str("localPath")),
		DeleteExtraneous: pr.boolean("deleteExtraneous"),
		DryRun:           pr.boolean("dryRun"),
		Include:          trimEmpty(pr.stringSlice("include")),
		Exclude:          trimEmpty(pr.stringSlice("exclude")),
	}
	if err := pr.err(); err != nil {
		return nil, err
	}

	if p.Bucket == "" || p.LocalPath == "" {
		return nil, model.NewValidationError("payload.bucket and payload.localPath are required")
	}
	if hasWildcard(p.Prefix) {
		return nil, model.NewValidationError("wildcards are not allowed in prefix")
	}
	return p, nil
}

func parseSyncS3ToLocal(pr payloadReader, opts ParseOpts) (Payload, error) {
	p := SyncS3ToLocalPayload{
		Bucket:           strings.TrimSpace(pr.str("bucket")),
		Prefix:           rclone.NormalizePathInput(pr.str("prefix"), opts.PreserveLeadingSlash),
		LocalPath:        strings.TrimSpace(pr.str("localPath")),
		DeleteExtraneous: pr.boolean("deleteExtraneous"),
		DryRun:           pr.boolean("dryRun"),
		Include:          trimEmpty(pr.stringSlice("include")),
		Exclude:          trimEmpty(pr.stringSlice("exclude")),
	}
	if err := pr.err(); err != nil {
		return nil, err
	}

	switch {
	case p.Bucket == "" && p.LocalPath == "":
		return nil, model.NewValidationError("payload.bucket and payload.localPath are required")
	case p.Bucket == "":
		return nil, model.NewValidationError("payload.bucket is required")
	case p.LocalPath == "":
		return nil, model.NewValidationError("payload.localPath is required")
	case hasWildcard(p.Prefix):
		return nil, model.NewValidationError("wildcards are not allowed in prefix")
	}
	return p, nil
}

func parseSyncStagingToS3(pr payloadReader) (Payload, error) {
	p := SyncStagingToS3Payload{UploadID: strings.TrimSpace(pr.str("uploadId"))}
	if err := pr.err(); err != nil {
		return nil, err
	}

	if p.UploadID == "" {
		return nil, model.NewValidationError("payload.uploadId is required")
	}
	return p, nil
}

func parseDeletePrefix(pr payloadReader, opts ParseOpts) (Payload, error) {
	p := DeletePrefixPayload{
		Bucket:            strings.TrimSpace(pr.str("bucket")),
		Prefix:            rclone.NormalizePathInput(pr.str("prefix"), opts.PreserveLeadingSlash),
		DeleteAll:         pr.boolean("deleteAll"),
		DryRun:            pr.boolean("dryRun"),
		AllowUnsafePrefix: pr.boolean("allowUnsafePrefix"),
		Include:           trimEmpty(pr.stringSlice("include")),
		Exclude:           trimEmpty(pr.stringSlice("exclude")),
	}
	if err := pr.err(); err != nil {
		return nil, err
	}

	switch {
	case p.Bucket == "":
		return nil, model.NewValidationError("payload.bucket is required")
	case p.DeleteAll && p.Prefix != "":
		return nil, model.NewValidationError("payload.prefix must be empty when payload.deleteAll=true")
	case p.DeleteAll:
		return p, nil
	case p.Prefix == "":
		return nil, model.NewValidationError("payload.prefix is required (or set payload.deleteAll=true)")
	case hasWildcard(p.Prefix):
		return nil, model.NewValidationError("wildcards are not allowed in prefix")
	case !strings.HasSuffix(p.Prefix, "/") && !p.AllowUnsafePrefix:
		return nil, model.NewValidationError("payload.prefix must end with '/' (or set payload.allowUnsafePrefix=true)")
	}
	return p, nil
}

func parseCopyMoveObject(pr payloadReader, opts ParseOpts, move bool) (Payload, error) {
	p := CopyMoveObjectPayload{
		Move:      move,
		SrcBucket: strings.TrimSpace(pr.str("srcBucket")),
		SrcKey:    rclone.NormalizePathInput(pr.str("srcKey"), opts.PreserveLeadingSlash),
		DstBucket: strings.TrimSpace(pr.str("dstBucket")),
		DstKey:    rclone.NormalizePathInput(pr.str("dstKey"), opts.PreserveLeadingSlash),
		DryRun:    pr.boolean("dryRun"),
	}
	if err := pr.err(); err != nil {
		return nil, err
	}

	switch {
	case p.SrcBucket == "" || p.SrcKey == "" || p.DstBucket == "" || p.DstKey == "":
		return nil, model.NewValidationError("payload.srcBucket, payload.srcKey, payload.dstBucket and payload.dstKey are required")
	case hasWildcard(p.SrcKey) || hasWildcard(p.DstKey):
		return nil, model.NewValidationError("wildcards are not allowed in keys")
	case p.SrcBucket == p.DstBucket && p.SrcKey == p.DstKey:
		return nil, model.NewValidationError("source and destination must be different")
	}
	return p, nil
}

func parseCopyMoveBatch(pr payloadReader, opts ParseOpts, move bool) (Payload, error) {
	p := CopyMoveBatchPayload{
		Move:      move,
		SrcBucket: strings.TrimSpace(pr.str("srcBucket")),
		DstBucket: strings.TrimSpace(pr.str("dstBucket")),
		DryRun:    pr.boolean("dryRun"),
	}
	rawItems, hasItems := pr.objects("items")
	if err := pr.err(); err != nil {
		return nil, err
	}

	switch {
	case p.SrcBucket == "" || p.DstBucket == "":
		return nil, model.NewValidationError("payload.srcBucket and payload.dstBucket are required")
	case !hasItems:
		return nil, model.NewValidationError("payload.items is required")
	}

	for i, raw := range rawItems {
		ir := payloadReader{raw: raw, field: fmt.Sprintf("items[%d].", i)}
		item := BatchItem{
			SrcKey: rclone.NormalizePathInput(ir.str("srcKey"), opts.PreserveLeadingSlash),
			DstKey: rclone.NormalizePathInput(ir.str("dstKey"), opts.PreserveLeadingSlash),
		}
		if err := ir.err(); err != nil {
			return nil, err
		}

		switch {
		case item.SrcKey == "" || item.DstKey == "":
			return nil, model.NewValidationError("payload.items[%d].srcKey and payload.items[%d].dstKey are required", i, i)
		case hasWildcard(item.SrcKey) || hasWildcard(item.DstKey):
			return nil, model.NewValidationError("wildcards are not allowed in keys (items[%d])", i)
		case p.SrcBucket == p.DstBucket && item.SrcKey == item.DstKey:
			return nil, model.NewValidationError("source and destination must be different (items[%d])", i)
		}
		p.Items = append(p.Items, item)
	}

	if len(p.Items) == 0 {
		return nil, model.NewValidationError("payload.items must contain at least one item")
	}
	return p, nil
}

func parseCopyMovePrefix(pr payloadReader, opts ParseOpts, move bool) (Payload, error) {
	p := CopyMovePrefixPayload{
		Move:      move,
		SrcBucket: strings.TrimSpace(pr.str("srcBucket")),
		SrcPrefix: rclone.NormalizePathInput(pr.str("srcPrefix"), opts.PreserveLeadingSlash),
		DstBucket: strings.TrimSpace(pr.str("dstBucket")),
		DstPrefix: rclone.NormalizePrefix(pr.str("dstPrefix"), opts.PreserveLeadingSlash),
		DryRun:    pr.boolean("dryRun"),
		Include:   trimEmpty(pr.stringSlice("include")),
		Exclude:   trimEmpty(pr.stringSlice("exclude")),
	}
	if err := pr.err(); err != nil {
		return nil, err
	}

	switch {
	case p.SrcBucket == "" || p.DstBucket == "":
		return nil, model.NewValidationError("payload.srcBucket and payload.dstBucket are required")
	case p.SrcPrefix == "":
		return nil, model.NewValidationError("payload.srcPrefix is required")
	case hasWildcard(p.SrcPrefix) || hasWildcard(p.DstPrefix):
		return nil, model.NewValidationError("wildcards are not allowed in prefixes")
	case !strings.HasSuffix(p.SrcPrefix, "/"):
		return nil, model.NewValidationError("payload.srcPrefix must end with '/'")
	}

	if p.SrcBucket == p.DstBucket && p.DstPrefix != "" {
		if p.SrcPrefix == p.DstPrefix {
			return nil, model.NewValidationError("source and destination must be different")
		}
		if strings.HasPrefix(p.DstPrefix, p.SrcPrefix) {
			return nil, model.NewValidationError("destination prefix must not be under source prefix")
		}
	}
	return p, nil
}

func parseZipPrefix(pr payloadReader, opts ParseOpts) (Payload, error) {
	p := ZipPrefixPayload{
		Bucket: strings.TrimSpace(pr.str("bucket")),
		Prefix: rclone.NormalizePathInput(pr.str("prefix"), opts.PreserveLeadingSlash),
	}
	if err := pr.err(); err != nil {
		return nil, err
	}

	switch {
	case p.Bucket == "":
		return nil, model.NewValidationError("payload.bucket is required")
	case hasWildcard(p.Prefix):
		return nil, model.NewValidationError("wildcards are not allowed in prefix")
	}
	return p, nil
}

func parseZipObjects(pr payloadReader, opts ParseOpts) (Payload, error) {
	bucket := strings.TrimSpace(pr.str("bucket"))
	keys := trimEmpty(pr.stringSlice("keys"))
	stripPrefix := rclone.NormalizePathInput(pr.str("stripPrefix"), opts.PreserveLeadingSlash)
	if err := pr.err(); err != nil {
		return nil, err
	}

	switch {
	case bucket == "":
		return nil, model.NewValidationError("payload.bucket is required")
	case len(keys) == 0:
		return nil, model.NewValidationError("payload.keys must contain at least one key")
	case len(keys) > MaxZipKeys:
		return nil, model.NewValidationError("too many keys (%d > %d); use a prefix zip instead", len(keys), MaxZipKeys)
	}

	keys = uniqueKeys(keys, opts.PreserveLeadingSlash)
	if len(keys) == 0 {
		return nil, model.NewValidationError("payload.keys must contain at least one key")
	}
	sort.Strings(keys)

	return ZipObjectsPayload{Bucket: bucket, Keys: keys, StripPrefix: stripPrefix}, nil
}

func parseDeleteObjects(pr payloadReader, opts ParseOpts) (Payload, error) {
	bucket := strings.TrimSpace(pr.str("bucket"))
	keys := trimEmpty(pr.stringSlice("keys"))
	if err := pr.err(); err != nil {
		return nil, err
	}

	switch {
	case bucket == "":
		return nil, model.NewValidationError("payload.bucket is required")
	case len(keys) == 0:
		return nil, model.NewValidationError("payload.keys must contain at least one key")
	}

	return DeleteObjectsPayload{Bucket: bucket, Keys: uniqueKeys(keys, opts.PreserveLeadingSlash)}, nil
}

func parseIndexObjects(pr payloadReader) (Payload, error) {
	p := IndexObjectsPayload{
		Bucket:      strings.TrimSpace(pr.str("bucket")),
		Prefix:      strings.TrimPrefix(strings.TrimSpace(pr.str("prefix")), "/"),
		FullReindex: pr.booleanOr("fullReindex", true),
	}
	if err := pr.err(); err != nil {
		return nil, err
	}

	switch {
	case p.Bucket == "":
		return nil, model.NewValidationError("payload.bucket is required")
	case hasWildcard(p.Prefix):
		return nil, model.NewValidationError("wildcards are not allowed in prefix")
	}
	return p, nil
}

// payloadReader reads typed fields of a raw payload, the first type error is
// kept and returned by err. Missing and null fields are zero values.
type payloadReader struct {
	raw   map[string]any
	field string
	e     error
}

func (r *payloadReader) fail(format string, args ...any) {
	if r.e == nil {
		r.e = model.NewValidationError(format, args...)
	}
}

func (r *payloadReader) err() error { return r.e }

func (r *payloadReader) str(key string) string {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail("payload.%s%s must be a string", r.field, key)
		return ""
	}
	return s
}

func (r *payloadReader) boolean(key string) bool { return r.booleanOr(key, false) }

func (r *payloadReader) booleanOr(key string, def bool) bool {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		r.fail("payload.%s%s must be a boolean", r.field, key)
		return def
	}
	return b
}

func (r *payloadReader) stringSlice(key string) []string {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return nil
	}

	switch vv := v.(type) {
	case []string:
		return append([]string{}, vv...)
	case []any:
		out := make([]string, 0, len(vv))
		for i, item := range vv {
			s, ok := item.(string)
			if !ok {
				r.fail("payload.%s%s[%d] must be a string", r.field, key, i)
				return nil
			}
			out = append(out, s)
		}
		return out
	}

	r.fail("payload.%s%s must be an array of strings", r.field, key)
	return nil
}

func (r *payloadReader) objects(key string) ([]map[string]any, bool) {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return nil, false
	}

	switch vv := v.(type) {
	case []map[string]any:
		return vv, true
	case []any:
		out := make([]map[string]any, 0, len(vv))
		for i, item := range vv {
			m, ok := item.(map[string]any)
			if !ok {
				r.fail("payload.%s%s[%d] must be an object", r.field, key, i)
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	}

	r.fail("payload.%s%s must be an array of objects", r.field, key)
	return nil, false
}

func hasWildcard(s string) bool { return strings.Contains(s, "*") }

func trimEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// uniqueKeys normalizes the keys dropping the invalid and duplicated ones,
// order is kept.
func uniqueKeys(keys []string, preserveLeadingSlash bool) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = rclone.NormalizePathInput(k, preserveLeadingSlash)
		if k == "" || strings.ContainsRune(k, 0) {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
