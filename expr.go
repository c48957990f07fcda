package relorm

// Expr is the tagged-union AST for filter predicates. Every query filter is
// built from these node types and translated to parameterized SQL by a
// Dialect-aware translator (translate.go) — never assembled as a raw string.
type Expr interface {
	isExpr()
}

// FieldExpr references a mapped column by its Go struct field name.
type FieldExpr struct {
	Field string
}

func (FieldExpr) isExpr() {}

// Field starts a comparison expression against a mapped struct field.
func Field(name string) FieldExpr {
	return FieldExpr{Field: name}
}

// LitExpr is a literal bind value.
type LitExpr struct {
	Value any
}

func (LitExpr) isExpr() {}

// Lit wraps a Go value as a bind parameter.
func Lit(v any) LitExpr {
	return LitExpr{Value: v}
}

// RawExpr injects a pre-validated SQL fragment verbatim (ValidateRawQuery is
// applied at translation time). Intended only for expressions the AST can't
// represent (dialect-specific functions); never accepts interpolated user
// input — bind values still go through Args.
type RawExpr struct {
	SQL  string
	Args []any
}

func (RawExpr) isExpr() {}

// Raw wraps a raw SQL fragment with its own bind arguments.
func Raw(sql string, args ...any) RawExpr {
	return RawExpr{SQL: sql, Args: args}
}

// CompareOp enumerates the binary comparison operators.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNeq
	OpGT
	OpGTE
	OpLT
	OpLTE
	OpLike
)

// CompareExpr compares Left against Right using Op.
type CompareExpr struct {
	Left  Expr
	Op    CompareOp
	Right Expr
}

func (CompareExpr) isExpr() {}

func (f FieldExpr) Eq(v any) CompareExpr  { return compare(f, OpEq, v) }
func (f FieldExpr) Neq(v any) CompareExpr { return compare(f, OpNeq, v) }
func (f FieldExpr) GT(v any) CompareExpr  { return compare(f, OpGT, v) }
func (f FieldExpr) GTE(v any) CompareExpr { return compare(f, OpGTE, v) }
func (f FieldExpr) LT(v any) CompareExpr  { return compare(f, OpLT, v) }
func (f FieldExpr) LTE(v any) CompareExpr { return compare(f, OpLTE, v) }
func (f FieldExpr) Like(pattern string) CompareExpr {
	return compare(f, OpLike, pattern)
}

func compare(f FieldExpr, op CompareOp, v any) CompareExpr {
	right := Expr(Lit(v))
	if e, ok := v.(Expr); ok {
		right = e
	}
	return CompareExpr{Left: f, Op: op, Right: right}
}

// BetweenExpr tests Field BETWEEN Low AND High (inclusive both ends).
type BetweenExpr struct {
	Field FieldExpr
	Low   any
	High  any
}

func (BetweenExpr) isExpr() {}

// Between builds a BETWEEN predicate.
func (f FieldExpr) Between(low, high any) BetweenExpr {
	return BetweenExpr{Field: f, Low: low, High: high}
}

// InExpr tests Field IN (Values...). An empty Values list translates to a
// statically-false predicate rather than invalid SQL.
type InExpr struct {
	Field  FieldExpr
	Values []any
}

func (InExpr) isExpr() {}

// In builds an IN predicate. Values may be empty.
func (f FieldExpr) In(values ...any) InExpr {
	return InExpr{Field: f, Values: values}
}

// NullCheckKind enumerates the null-related predicate forms spec.md §4.4
// names: plain nullness, and the two "meaningfully absent" variants that
// additionally exclude an empty or whitespace-only string.
type NullCheckKind int

const (
	NullIs NullCheckKind = iota
	NullIsNot
	NullIsNotOrEmpty
	NullIsNotOrWhitespace
)

// NullExpr tests Field against one of the NullCheckKind forms.
type NullExpr struct {
	Field FieldExpr
	Kind  NullCheckKind
}

func (NullExpr) isExpr() {}

// IsNull builds an IS NULL predicate.
func (f FieldExpr) IsNull() NullExpr { return NullExpr{Field: f, Kind: NullIs} }

// IsNotNull builds an IS NOT NULL predicate.
func (f FieldExpr) IsNotNull() NullExpr { return NullExpr{Field: f, Kind: NullIsNot} }

// IsNotNullOrEmpty builds a predicate true when Field is neither NULL nor
// the empty string.
func (f FieldExpr) IsNotNullOrEmpty() NullExpr { return NullExpr{Field: f, Kind: NullIsNotOrEmpty} }

// IsNotNullOrWhitespace builds a predicate true when Field is neither NULL,
// empty, nor composed entirely of whitespace (per the dialect's TRIM form).
func (f FieldExpr) IsNotNullOrWhitespace() NullExpr {
	return NullExpr{Field: f, Kind: NullIsNotOrWhitespace}
}

// ArithOp enumerates the binary arithmetic operators.
type ArithOp int

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
)

// ArithExpr computes Left <op> Right as a value expression; usable anywhere
// an Expr is accepted, including on the right side of a CompareExpr or
// inside a batch-update projection. Division by zero is left to the
// database, as spec'd.
type ArithExpr struct {
	Left  Expr
	Op    ArithOp
	Right Expr
}

func (ArithExpr) isExpr() {}

func arith(left Expr, op ArithOp, v any) ArithExpr {
	right := Expr(Lit(v))
	if e, ok := v.(Expr); ok {
		right = e
	}
	return ArithExpr{Left: left, Op: op, Right: right}
}

// Add builds Field + v.
func (f FieldExpr) Add(v any) ArithExpr { return arith(f, OpAdd, v) }

// Sub builds Field - v.
func (f FieldExpr) Sub(v any) ArithExpr { return arith(f, OpSub, v) }

// Mul builds Field * v.
func (f FieldExpr) Mul(v any) ArithExpr { return arith(f, OpMul, v) }

// Div builds Field / v.
func (f FieldExpr) Div(v any) ArithExpr { return arith(f, OpDiv, v) }

// Mod builds Field % v.
func (f FieldExpr) Mod(v any) ArithExpr { return arith(f, OpMod, v) }

// Eq builds (Left <op> Right) = v.
func (a ArithExpr) Eq(v any) CompareExpr { return CompareExpr{Left: a, Op: OpEq, Right: wrapLit(v)} }

// StringFunc enumerates the scalar string transforms spec.md §4.4 names.
type StringFunc int

const (
	FuncUpper StringFunc = iota
	FuncLower
	FuncTrim
	FuncLength
)

// StringFuncExpr wraps Field with a scalar SQL string function, usable as a
// value expression (e.g. Field("Name").Upper().Eq(Lit("JOHN"))).
type StringFuncExpr struct {
	Field FieldExpr
	Fn    StringFunc
}

func (StringFuncExpr) isExpr() {}

// Upper builds UPPER(Field).
func (f FieldExpr) Upper() StringFuncExpr { return StringFuncExpr{Field: f, Fn: FuncUpper} }

// Lower builds LOWER(Field).
func (f FieldExpr) Lower() StringFuncExpr { return StringFuncExpr{Field: f, Fn: FuncLower} }

// Trim builds TRIM(Field).
func (f FieldExpr) Trim() StringFuncExpr { return StringFuncExpr{Field: f, Fn: FuncTrim} }

// Length builds LENGTH(Field) (CHAR_LENGTH on MySQL, handled by the dialect).
func (f FieldExpr) Length() StringFuncExpr { return StringFuncExpr{Field: f, Fn: FuncLength} }

// Eq builds FN(Field) = v.
func (s StringFuncExpr) Eq(v any) CompareExpr {
	return CompareExpr{Left: s, Op: OpEq, Right: wrapLit(v)}
}

// LikeKind enumerates the substring-match forms that compile to LIKE.
type LikeKind int

const (
	LikeContains LikeKind = iota
	LikeStartsWith
	LikeEndsWith
)

// LikeMatchExpr tests Field against a LIKE pattern built from Pattern, with
// '%' and '_' in Pattern escaped so the match is literal substring/prefix/
// suffix search rather than user-controlled wildcarding.
type LikeMatchExpr struct {
	Field   FieldExpr
	Pattern string
	Kind    LikeKind
}

func (LikeMatchExpr) isExpr() {}

// Contains builds a LIKE predicate matching any occurrence of s.
func (f FieldExpr) Contains(s string) LikeMatchExpr {
	return LikeMatchExpr{Field: f, Pattern: s, Kind: LikeContains}
}

// StartsWith builds a LIKE predicate matching values beginning with s.
func (f FieldExpr) StartsWith(s string) LikeMatchExpr {
	return LikeMatchExpr{Field: f, Pattern: s, Kind: LikeStartsWith}
}

// EndsWith builds a LIKE predicate matching values ending with s.
func (f FieldExpr) EndsWith(s string) LikeMatchExpr {
	return LikeMatchExpr{Field: f, Pattern: s, Kind: LikeEndsWith}
}

// CaseExpr renders a CASE WHEN Cond THEN Then ELSE Else END conditional
// value expression.
type CaseExpr struct {
	Cond Expr
	Then Expr
	Else Expr
}

func (CaseExpr) isExpr() {}

// Case builds a ternary conditional: cond ? then : els.
func Case(cond Expr, then, els any) CaseExpr {
	thenExpr := wrapLit(then)
	elseExpr := wrapLit(els)
	return CaseExpr{Cond: cond, Then: thenExpr, Else: elseExpr}
}

func wrapLit(v any) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return Lit(v)
}

// AggregateFunc enumerates the SQL aggregate functions spec.md §4.4 names.
type AggregateFunc int

const (
	AggCount AggregateFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

// AggregateExpr applies an aggregate function over Field. A nil Field with
// AggCount renders COUNT(*), the unfiltered-count form.
type AggregateExpr struct {
	Fn    AggregateFunc
	Field *FieldExpr
}

func (AggregateExpr) isExpr() {}

// CountAll builds COUNT(*).
func CountAll() AggregateExpr { return AggregateExpr{Fn: AggCount} }

// Count builds COUNT(Field).
func (f FieldExpr) Count() AggregateExpr { return AggregateExpr{Fn: AggCount, Field: &f} }

// SumOf builds SUM(Field).
func (f FieldExpr) SumOf() AggregateExpr { return AggregateExpr{Fn: AggSum, Field: &f} }

// AvgOf builds AVG(Field).
func (f FieldExpr) AvgOf() AggregateExpr { return AggregateExpr{Fn: AggAvg, Field: &f} }

// MinOf builds MIN(Field).
func (f FieldExpr) MinOf() AggregateExpr { return AggregateExpr{Fn: AggMin, Field: &f} }

// MaxOf builds MAX(Field).
func (f FieldExpr) MaxOf() AggregateExpr { return AggregateExpr{Fn: AggMax, Field: &f} }

// LogicalOp enumerates AND/OR/NOT combination of sub-expressions.
type LogicalOp int

const (
	OpAnd LogicalOp = iota
	OpOr
	OpNot
)

// LogicalExpr combines one or more sub-expressions with AND, OR, or negates
// a single one with NOT.
type LogicalExpr struct {
	Op    LogicalOp
	Exprs []Expr
}

func (LogicalExpr) isExpr() {}

// And combines expressions with AND.
func And(exprs ...Expr) LogicalExpr { return LogicalExpr{Op: OpAnd, Exprs: exprs} }

// Or combines expressions with OR.
func Or(exprs ...Expr) LogicalExpr { return LogicalExpr{Op: OpOr, Exprs: exprs} }

// Not negates a single expression.
func Not(e Expr) LogicalExpr { return LogicalExpr{Op: OpNot, Exprs: []Expr{e}} }
