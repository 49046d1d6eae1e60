/*
Package expr parses and evaluates the boolean conditions used by switch
nodes, and resolves dot paths into nested values.

Conditions are parsed once into an immutable Condition and evaluated per
run against a variable map:

	cond, err := expr.Parse("order.total > 100 and not flagged")
	if err != nil {
	    return err // *expr.SyntaxError
	}
	ok := cond.Eval(map[string]any{"order": order, "flagged": false})

# Syntax

From loosest to tightest binding:

	or, ||          either side truthy
	and, &&         both sides truthy
	not, !          negation (prefix)
	== != < > <= >= contains, custom words

Parentheses group. Operands are quoted strings ('a' or "a", backslash
escapes), numbers, true, false, null, or names. A name is looked up in the
variable map as a flat key first, then as a dot path ("items.0.price").
Inside a comparison, a name that resolves to nothing stands for its own
text, so status == active compares against the string "active". On its
own, such a name is false.

== and != compare numbers numerically and anything else by its %v text.
The ordering operators convert both sides to float64, parsing strings.
A lone operand is tested for truthiness: nil, false, "" and zero are
false.

# Custom operators

	e := expr.New(expr.WithCustomOperator("matches", func(l, r any) bool {
	    ok, _ := regexp.MatchString(fmt.Sprint(r), fmt.Sprint(l))
	    return ok
	}))
	cond, _ := e.Parse("name matches '^test'")

# Paths

Lookup walks maps with string keys, slices, arrays and pointers:

	v, ok := expr.Lookup(payload, "result.users.0.name")
*/
package expr
