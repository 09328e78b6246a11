// Package aligner fuzzily corrects tool names and argument keys that a model
// spells slightly wrong, so a call like "serach_web" with arg "qeury" still
// resolves to "search_web"/"query" instead of failing outright.
//
// Matching happens in three stages, in order: exact match, a lexical
// (edit-distance) match above a threshold, then a semantic (embedding
// cosine-similarity) match above a threshold. The first stage to produce a
// candidate wins; if none do, the call is left unmatched. This mirrors
// embeddings/aligner.py's AlignerPool.match in the system this package is
// based on.
package aligner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/agext/levenshtein"
	"github.com/sahilm/fuzzy"
)

// EmbeddingModel produces a vector embedding for a piece of text. It is the
// external collaborator boundary: this package never picks a concrete model,
// it only consumes one.
type EmbeddingModel interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Pool holds one named set of candidate phrases (a tool-name set, or one
// tool's argument-name set) and matches queries against it.
type Pool struct {
	mu                sync.Mutex
	lexicalThreshold  float64 // 0-100, percentage similarity
	semanticThreshold float64 // 0-1, cosine similarity

	phrases []string
	vectors [][]float64
	dirty   bool
}

// NewPool creates a pool with the given match thresholds.
func NewPool(lexicalThreshold, semanticThreshold float64) *Pool {
	return &Pool{lexicalThreshold: lexicalThreshold, semanticThreshold: semanticThreshold}
}

// Add registers a candidate phrase, embedding it immediately and marking the
// pool's similarity matrix dirty. The embedding is computed eagerly (unlike
// the matrix rebuild below) because Add is called once per tool at bind
// time, not once per match.
func (p *Pool) Add(ctx context.Context, model EmbeddingModel, phrase string) error {
	vec, err := model.Embed(ctx, phrase)
	if err != nil {
		return fmt.Errorf("aligner: embed %q: %w", phrase, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phrases = append(p.phrases, phrase)
	p.vectors = append(p.vectors, vec)
	p.dirty = true
	return nil
}

// Match resolves query to one of the pool's phrases, or returns ok=false if
// no stage finds a confident candidate.
func (p *Pool) Match(ctx context.Context, model EmbeddingModel, query string) (match string, ok bool, err error) {
	p.mu.Lock()
	phrases := make([]string, len(p.phrases))
	copy(phrases, p.phrases)
	p.mu.Unlock()

	for _, ph := range phrases {
		if ph == query {
			return ph, true, nil
		}
	}

	if m, found := lexicalMatch(query, phrases, p.lexicalThreshold); found {
		return m, true, nil
	}

	queryVec, err := model.Embed(ctx, query)
	if err != nil {
		return "", false, fmt.Errorf("aligner: embed query %q: %w", query, err)
	}

	p.mu.Lock()
	p.rebuildIfDirty()
	vectors := make([][]float64, len(p.vectors))
	copy(vectors, p.vectors)
	names := make([]string, len(p.phrases))
	copy(names, p.phrases)
	p.mu.Unlock()

	best := -1
	bestScore := -1.0
	for i, v := range vectors {
		score := cosineSimilarity(v, queryVec)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best >= 0 && bestScore >= p.semanticThreshold {
		return names[best], true, nil
	}
	return "", false, nil
}

// rebuildIfDirty is the lazy "rebuild the similarity matrix" step. With an
// in-memory slice of vectors there is no matrix to actually recompute, but
// the dirty flag stays here to preserve the point-of-rebuild the lazy
// strategy calls for, so a vector-store backed EmbeddingModel can hook in
// without changing Match's control flow.
func (p *Pool) rebuildIfDirty() {
	if !p.dirty {
		return
	}
	p.dirty = false
}

// lexicalMatch ranks phrases by fuzzy.Find's match score to narrow to the
// likeliest candidates, then confirms the winner with a Levenshtein ratio
// against the configured threshold — fuzzy.Find alone has no fixed scale to
// compare against a threshold, Levenshtein ratio does.
func lexicalMatch(query string, phrases []string, threshold float64) (string, bool) {
	if len(phrases) == 0 {
		return "", false
	}
	ranked := fuzzy.Find(query, phrases)
	candidates := phrases
	if len(ranked) > 0 {
		candidates = make([]string, len(ranked))
		for i, m := range ranked {
			candidates[i] = phrases[m.Index]
		}
	}

	best := ""
	bestRatio := -1.0
	for _, ph := range candidates {
		ratio := levenshtein.Match(query, ph, nil) * 100
		if ratio > bestRatio {
			bestRatio = ratio
			best = ph
		}
	}
	if bestRatio >= threshold {
		return best, true
	}
	return "", false
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Default thresholds, matching the source's ToolAlignerFactory defaults.
const (
	DefaultToolNameLexicalThreshold  = 85.0
	DefaultToolNameSemanticThreshold = 0.7
	DefaultToolArgsLexicalThreshold  = 80.0
	DefaultToolArgsSemanticThreshold = 0.65
)

// Aligner owns a named set of pools, one per tool-name set or per tool's
// argument-name set.
type Aligner struct {
	mu    sync.RWMutex
	model EmbeddingModel
	pools map[string]*Pool
}

// New creates an Aligner backed by the given embedding model.
func New(model EmbeddingModel) *Aligner {
	return &Aligner{model: model, pools: make(map[string]*Pool)}
}

// CreatePool registers a new named pool. Re-creating a pool with the same
// name replaces it.
func (a *Aligner) CreatePool(name string, lexicalThreshold, semanticThreshold float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pools[name] = NewPool(lexicalThreshold, semanticThreshold)
}

func (a *Aligner) getPool(name string) (*Pool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[name]
	return p, ok
}

// AddPhrase adds phrase to the named pool, creating the pool with default
// thresholds if it doesn't exist yet.
func (a *Aligner) AddPhrase(ctx context.Context, poolName, phrase string) error {
	p, ok := a.getPool(poolName)
	if !ok {
		a.CreatePool(poolName, DefaultToolNameLexicalThreshold, DefaultToolNameSemanticThreshold)
		p, _ = a.getPool(poolName)
	}
	return p.Add(ctx, a.model, phrase)
}

// Match resolves query against the named pool.
func (a *Aligner) Match(ctx context.Context, poolName, query string) (string, bool, error) {
	p, ok := a.getPool(poolName)
	if !ok {
		return "", false, nil
	}
	return p.Match(ctx, a.model, query)
}

const toolNamePool = "tools"

func argsPoolName(toolName string) string {
	return toolName + "#args"
}

// ToolAligner specializes Aligner to the tool-calling shape: one pool of
// tool names, plus one pool of argument names per tool.
type ToolAligner struct {
	*Aligner
}

// NewToolAligner creates a ToolAligner with the tools pool pre-created using
// its default thresholds.
func NewToolAligner(model EmbeddingModel) *ToolAligner {
	a := New(model)
	a.CreatePool(toolNamePool, DefaultToolNameLexicalThreshold, DefaultToolNameSemanticThreshold)
	return &ToolAligner{Aligner: a}
}

// AddTool registers a tool's name in the shared name pool and creates a
// dedicated argument-name pool for it.
func (t *ToolAligner) AddTool(ctx context.Context, name string, argNames []string) error {
	if err := t.AddPhrase(ctx, toolNamePool, name); err != nil {
		return err
	}
	t.CreatePool(argsPoolName(name), DefaultToolArgsLexicalThreshold, DefaultToolArgsSemanticThreshold)
	for _, arg := range argNames {
		if err := t.AddPhrase(ctx, argsPoolName(name), arg); err != nil {
			return err
		}
	}
	return nil
}

// AlignCall corrects a tool name and its argument keys. It returns ok=false
// if the name can't be resolved, or if any argument key can't be resolved
// against the matched tool's argument pool — a partial fix is not good
// enough, matching the source's all-or-nothing align_tool_call.
//
// The returned arguments are a fresh map built from the original values with
// corrected keys; the input map is never mutated, keeping a ToolCall's
// aligned form a copy rather than an in-place edit.
func (t *ToolAligner) AlignCall(ctx context.Context, name string, args map[string]any) (alignedName string, alignedArgs map[string]any, ok bool, err error) {
	matchedName, found, err := t.Match(ctx, toolNamePool, name)
	if err != nil {
		return "", nil, false, err
	}
	if !found {
		return "", nil, false, nil
	}

	out := make(map[string]any, len(args))
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		matchedKey, found, err := t.Match(ctx, argsPoolName(matchedName), k)
		if err != nil {
			return "", nil, false, err
		}
		if !found {
			return "", nil, false, nil
		}
		out[matchedKey] = args[k]
	}
	return matchedName, out, true, nil
}
