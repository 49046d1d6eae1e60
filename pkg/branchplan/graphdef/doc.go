// Package graphdef loads graph definitions from YAML or JSON and builds
// compiled branchplan graphs from them.
//
// A definition lists nodes by type and connections as "node.port"
// endpoints:
//
//	name: scoring
//	vars:
//	  threshold: 90
//	nodes:
//	  - id: source
//	    type: passthrough
//	  - id: switch
//	    type: switch
//	    condition: "score > ${threshold}"
//	  - id: high
//	    type: passthrough
//	  - id: low
//	    type: passthrough
//	connections:
//	  - from: source.output
//	    to: switch.input_data
//	  - from: switch.true_output
//	    to: high.input_data
//	  - from: switch.false_output
//	    to: low.input_data
//
// Node types resolve through a Builder's factory registry when the graph
// is built, never at run time. The built-in types are switch, case_switch,
// merge, passthrough and constant; Register adds custom ones.
//
// String fields may reference definition variables as ${name} or
// ${name.nested}. Variables passed to Build override those in the file.
// A reference to an undefined variable is an error.
package graphdef
