// Package calculator implements the arithmetic tool.
//
// Expressions are evaluated by a small recursive-descent parser over
// + - * / ^ and parentheses; nothing is ever handed to an interpreter.
package calculator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/MrWong99/parla/internal/tools"
)

// NoExpression is the reply when the query contains no arithmetic.
const NoExpression = "未找到有效的数学表达式"

var _ tools.Tool = (*Tool)(nil)

// Tool is the calculator tool.
type Tool struct {
	precision int
}

// New returns a Tool rounding results to precision decimal places.
func New(precision int) *Tool {
	if precision < 0 {
		precision = 2
	}
	return &Tool{precision: precision}
}

// Factory builds a [Tool]. The "precision" setting defaults to 2.
func Factory(_ context.Context, s tools.Settings) (tools.Tool, error) {
	return New(s.Int("precision", 2)), nil
}

// Run implements [tools.Tool]. Malformed expressions produce a
// "计算失败: …" reply rather than an error.
func (t *Tool) Run(_ context.Context, query string) (string, error) {
	expr := Extract(query)
	if expr == "" {
		return NoExpression, nil
	}
	v, err := Eval(expr)
	if err != nil {
		return "计算失败: " + err.Error(), nil
	}
	return fmt.Sprintf("计算结果: %s = %s", expr, Format(v, t.precision)), nil
}

// Format rounds v to precision places and drops a zero fraction.
func Format(v float64, precision int) string {
	p := math.Pow(10, float64(precision))
	v = math.Round(v*p) / p
	if v == 0 {
		v = 0 // normalise -0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ── Extraction ───────────────────────────────────────────────────────────────

// wordOps are spoken operators, longest first so that 乘以 wins over 乘.
var wordOps = strings.NewReplacer(
	"的平方根", "^0.5",
	"的立方根", "^(1/3)",
	"的平方", "^2",
	"的立方", "^3",
	"乘以", "*",
	"除以", "/",
	"加上", "+",
	"减去", "-",
	"加", "+",
	"减", "-",
	"乘", "*",
	"除", "/",
	"×", "*",
	"÷", "/",
	"（", "(",
	"）", ")",
	"**", "^",
)

var framed = []*regexp.Regexp{
	regexp.MustCompile(`计算(.+?)(?:等于多少|是多少|=|$)`),
	regexp.MustCompile(`算一下(.+?)(?:是多少|等于多少|$)`),
	regexp.MustCompile(`(.+?)(?:等于多少|是多少|等于几)`),
}

var mathRun = regexp.MustCompile(`[0-9.+\-*/^() ]+`)

// Extract returns the arithmetic expression in query with spoken operators
// normalised and spaces removed, or "" if there is none.
func Extract(query string) string {
	norm := wordOps.Replace(query)

	for _, re := range framed {
		if m := re.FindStringSubmatch(norm); m != nil {
			if expr := clean(m[1]); isExpression(expr) {
				return expr
			}
		}
	}

	best := ""
	for _, run := range mathRun.FindAllString(norm, -1) {
		if expr := clean(run); isExpression(expr) && len(expr) > len(best) {
			best = expr
		}
	}
	return best
}

func clean(s string) string {
	s = strings.ReplaceAll(s, " ", "")
	return strings.Trim(s, "=")
}

// isExpression reports whether s is made only of arithmetic characters and
// contains at least one digit and one operator.
func isExpression(s string) bool {
	if s == "" {
		return false
	}
	hasDigit, hasOp := false, false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '+' || r == '*' || r == '/' || r == '^':
			hasOp = true
		case r == '-':
			if i > 0 {
				hasOp = true
			}
		case r == '.' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return hasDigit && hasOp
}

// ── Evaluation ───────────────────────────────────────────────────────────────

var (
	errSyntax  = errors.New("表达式格式错误")
	errDivZero = errors.New("除数不能为零")
)

// Eval evaluates an arithmetic expression.
//
//	expr   = term { ("+"|"-") term }
//	term   = unary { ("*"|"/") unary }
//	unary  = "-" unary | "+" unary | power
//	power  = atom [ "^" unary ]
//	atom   = number | "(" expr ")"
func Eval(expr string) (float64, error) {
	p := &parser{src: strings.ReplaceAll(expr, " ", "")}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.src) {
		return 0, fmt.Errorf("%w: 位置 %d 处有多余字符 %q", errSyntax, p.pos, p.src[p.pos:])
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: 结果无效", errSyntax)
	}
	return v, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *parser) expr() (float64, error) {
	v, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			r, err := p.term()
			if err != nil {
				return 0, err
			}
			v += r
		case '-':
			p.pos++
			r, err := p.term()
			if err != nil {
				return 0, err
			}
			v -= r
		default:
			return v, nil
		}
	}
}

func (p *parser) term() (float64, error) {
	v, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			r, err := p.unary()
			if err != nil {
				return 0, err
			}
			v *= r
		case '/':
			p.pos++
			r, err := p.unary()
			if err != nil {
				return 0, err
			}
			if r == 0 {
				return 0, errDivZero
			}
			v /= r
		default:
			return v, nil
		}
	}
}

func (p *parser) unary() (float64, error) {
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.unary()
		return -v, err
	case '+':
		p.pos++
		return p.unary()
	}
	return p.power()
}

// power is right-associative and binds tighter than unary minus on its left:
// -2^2 = -4.
func (p *parser) power() (float64, error) {
	base, err := p.atom()
	if err != nil {
		return 0, err
	}
	if p.peek() != '^' {
		return base, nil
	}
	p.pos++
	exp, err := p.unary()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *parser) atom() (float64, error) {
	if p.peek() == '(' {
		p.pos++
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("%w: 缺少右括号", errSyntax)
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		if p.pos >= len(p.src) {
			return 0, fmt.Errorf("%w: 表达式不完整", errSyntax)
		}
		return 0, fmt.Errorf("%w: 位置 %d 处意外的字符 %q", errSyntax, p.pos, p.src[p.pos])
	}
	v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: 无效数字 %q", errSyntax, p.src[start:p.pos])
	}
	return v, nil
}
