package relorm

import (
	"fmt"
	"strings"
)

// translator renders Expr trees to parameterized SQL for a Descriptor and
// Dialect pair, carrying the running bind-parameter index so placeholders
// stay correctly numbered across an entire WHERE clause ($1, $2, ... on
// Postgres; repeated ? on SQLite/MySQL).
type translator struct {
	desc    *Descriptor
	dialect *Dialect
	args    []any
}

// Translate renders e to a SQL fragment (with dialect-correct placeholders)
// plus its ordered bind arguments.
func Translate(desc *Descriptor, dialect *Dialect, e Expr) (string, []any, error) {
	t := &translator{desc: desc, dialect: dialect}
	sql, err := t.render(e)
	if err != nil {
		return "", nil, err
	}
	return sql, t.args, nil
}

func (t *translator) bind(v any) string {
	t.args = append(t.args, v)
	return t.dialect.Placeholder(len(t.args))
}

func (t *translator) columnFor(f FieldExpr) (string, error) {
	col, ok := t.desc.ColumnsByField[f.Field]
	if !ok {
		return "", fmt.Errorf("%w: unknown field %q on %s", ErrUnsupportedExpression, f.Field, t.desc.Type.Name())
	}
	return t.dialect.QuoteIdentifier(col.Name), nil
}

func (t *translator) render(e Expr) (string, error) {
	switch v := e.(type) {
	case FieldExpr:
		return t.columnFor(v)
	case LitExpr:
		return t.bind(v.Value), nil
	case RawExpr:
		if err := ValidateRawQuery(v.SQL); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnsupportedExpression, err)
		}
		for _, a := range v.Args {
			t.args = append(t.args, a)
		}
		return v.SQL, nil
	case CompareExpr:
		return t.renderCompare(v)
	case BetweenExpr:
		return t.renderBetween(v)
	case InExpr:
		return t.renderIn(v)
	case NullExpr:
		return t.renderNull(v)
	case LogicalExpr:
		return t.renderLogical(v)
	case ArithExpr:
		return t.renderArith(v)
	case StringFuncExpr:
		return t.renderStringFunc(v)
	case LikeMatchExpr:
		return t.renderLikeMatch(v)
	case CaseExpr:
		return t.renderCase(v)
	case AggregateExpr:
		return t.renderAggregate(v)
	default:
		return "", fmt.Errorf("%w: unhandled expression type %T", ErrUnsupportedExpression, e)
	}
}

// isNilLiteral reports whether e is a Lit(nil), the trigger for the
// NULL-safety rewrite on = and <>.
func isNilLiteral(e Expr) bool {
	lit, ok := e.(LitExpr)
	return ok && lit.Value == nil
}

func (t *translator) renderCompare(c CompareExpr) (string, error) {
	// NULL-safety: "x = NULL" and "x <> NULL" are rewritten to IS [NOT] NULL
	// since SQL's three-valued logic makes a literal comparison always
	// evaluate to unknown.
	if c.Op == OpEq && isNilLiteral(c.Right) {
		left, err := t.render(c.Left)
		if err != nil {
			return "", err
		}
		return left + " IS NULL", nil
	}
	if c.Op == OpNeq && isNilLiteral(c.Right) {
		left, err := t.render(c.Left)
		if err != nil {
			return "", err
		}
		return left + " IS NOT NULL", nil
	}

	left, err := t.render(c.Left)
	if err != nil {
		return "", err
	}
	right, err := t.render(c.Right)
	if err != nil {
		return "", err
	}
	op := map[CompareOp]string{
		OpEq: "=", OpNeq: "<>", OpGT: ">", OpGTE: ">=", OpLT: "<", OpLTE: "<=", OpLike: "LIKE",
	}[c.Op]
	return fmt.Sprintf("%s %s %s", left, op, right), nil
}

func (t *translator) renderArith(a ArithExpr) (string, error) {
	left, err := t.render(a.Left)
	if err != nil {
		return "", err
	}
	right, err := t.render(a.Right)
	if err != nil {
		return "", err
	}
	op := map[ArithOp]string{
		OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	}[a.Op]
	return fmt.Sprintf("(%s %s %s)", left, op, right), nil
}

func (t *translator) renderStringFunc(s StringFuncExpr) (string, error) {
	col, err := t.columnFor(s.Field)
	if err != nil {
		return "", err
	}
	switch s.Fn {
	case FuncUpper:
		return fmt.Sprintf("UPPER(%s)", col), nil
	case FuncLower:
		return fmt.Sprintf("LOWER(%s)", col), nil
	case FuncTrim:
		return fmt.Sprintf("%s(%s)", t.dialect.TrimFunc, col), nil
	case FuncLength:
		return fmt.Sprintf("%s(%s)", t.dialect.LengthFunc, col), nil
	default:
		return "", fmt.Errorf("%w: unknown string function %d", ErrUnsupportedExpression, s.Fn)
	}
}

// escapeLikePattern escapes the dialect's LIKE wildcard characters ('%' and
// '_') in a literal pattern so Contains/StartsWith/EndsWith match the
// pattern text itself rather than letting user input smuggle wildcards.
func escapeLikePattern(dialect *Dialect, pattern string) string {
	esc := dialect.LikeEscape
	pattern = strings.ReplaceAll(pattern, esc, esc+esc)
	pattern = strings.ReplaceAll(pattern, "%", esc+"%")
	pattern = strings.ReplaceAll(pattern, "_", esc+"_")
	return pattern
}

func (t *translator) renderLikeMatch(l LikeMatchExpr) (string, error) {
	col, err := t.columnFor(l.Field)
	if err != nil {
		return "", err
	}
	escaped := escapeLikePattern(t.dialect, l.Pattern)
	var wire string
	switch l.Kind {
	case LikeStartsWith:
		wire = escaped + "%"
	case LikeEndsWith:
		wire = "%" + escaped
	default:
		wire = "%" + escaped + "%"
	}
	placeholder := t.bind(wire)
	return fmt.Sprintf("%s LIKE %s ESCAPE '%s'", col, placeholder, t.dialect.LikeEscape), nil
}

func (t *translator) renderCase(c CaseExpr) (string, error) {
	cond, err := t.render(c.Cond)
	if err != nil {
		return "", err
	}
	then, err := t.render(c.Then)
	if err != nil {
		return "", err
	}
	els, err := t.render(c.Else)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CASE WHEN %s THEN %s ELSE %s END", cond, then, els), nil
}

func (t *translator) renderAggregate(a AggregateExpr) (string, error) {
	name := map[AggregateFunc]string{
		AggCount: "COUNT", AggSum: "SUM", AggAvg: "AVG", AggMin: "MIN", AggMax: "MAX",
	}[a.Fn]
	if a.Field == nil {
		if a.Fn != AggCount {
			return "", fmt.Errorf("%w: aggregate %s requires a field", ErrUnsupportedExpression, name)
		}
		return "COUNT(*)", nil
	}
	col, err := t.columnFor(*a.Field)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(%s)", name, col), nil
}

func (t *translator) renderBetween(b BetweenExpr) (string, error) {
	col, err := t.columnFor(b.Field)
	if err != nil {
		return "", err
	}
	lo := t.bind(b.Low)
	hi := t.bind(b.High)
	return fmt.Sprintf("%s BETWEEN %s AND %s", col, lo, hi), nil
}

func (t *translator) renderIn(in InExpr) (string, error) {
	col, err := t.columnFor(in.Field)
	if err != nil {
		return "", err
	}
	if len(in.Values) == 0 {
		// An empty IN-list is statically false; 1=0 keeps the clause valid SQL
		// across every dialect instead of emitting "IN ()".
		return "1 = 0", nil
	}
	placeholders := make([]string, len(in.Values))
	for i, v := range in.Values {
		placeholders[i] = t.bind(v)
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")), nil
}

func (t *translator) renderNull(n NullExpr) (string, error) {
	col, err := t.columnFor(n.Field)
	if err != nil {
		return "", err
	}
	switch n.Kind {
	case NullIs:
		return col + " IS NULL", nil
	case NullIsNot:
		return col + " IS NOT NULL", nil
	case NullIsNotOrEmpty:
		return fmt.Sprintf("(%s IS NOT NULL AND %s <> '')", col, col), nil
	case NullIsNotOrWhitespace:
		return fmt.Sprintf("(%s IS NOT NULL AND %s(%s) <> '')", col, t.dialect.TrimFunc, col), nil
	default:
		return "", fmt.Errorf("%w: unknown null check kind %d", ErrUnsupportedExpression, n.Kind)
	}
}

func (t *translator) renderLogical(l LogicalExpr) (string, error) {
	if l.Op == OpNot {
		inner, err := t.render(l.Exprs[0])
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	}

	if len(l.Exprs) == 0 {
		if l.Op == OpAnd {
			return "1 = 1", nil
		}
		return "1 = 0", nil
	}

	joiner := " AND "
	if l.Op == OpOr {
		joiner = " OR "
	}

	parts := make([]string, len(l.Exprs))
	for i, sub := range l.Exprs {
		rendered, err := t.render(sub)
		if err != nil {
			return "", err
		}
		parts[i] = "(" + rendered + ")"
	}
	return strings.Join(parts, joiner), nil
}
