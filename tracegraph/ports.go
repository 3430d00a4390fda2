package tracegraph

import "strings"

// LeafPortPredicate decides whether a callee port is considered a leaf
// (callee-side terminal) port. It is pluggable because the exact leaf
// vocabulary is defined by the upstream analyzer, not by the trace graph
// itself.
type LeafPortPredicate func(port string) bool

// IsRootPort reports whether port identifies the root of a trace: where an
// IssueInstance directly attaches its first hop.
func IsRootPort(port string) bool {
	return port == "root" || strings.HasPrefix(port, "root:")
}

// IsSubtraceRootPort reports whether port identifies the root of a subtrace
// reached only through a TraceFrameAnnotation.
func IsSubtraceRootPort(port string) bool {
	return port == "subtrace_root" || strings.HasPrefix(port, "subtrace_root:")
}

// IsAnchorPort reports whether port identifies an anchor hop, the frame at
// which propagated features should be pinned regardless of trace length.
func IsAnchorPort(port string) bool {
	return strings.HasPrefix(port, "anchor:")
}

// DefaultIsLeafPort is the conventional leaf predicate: a port named "leaf"
// or namespaced under "leaf:". Callers with a richer vocabulary of terminal
// ports (e.g. distinguishing "leaf:source" from "leaf:sink") should supply
// their own LeafPortPredicate via Store.SetLeafPortPredicate instead.
func DefaultIsLeafPort(port string) bool {
	return port == "leaf" || strings.HasPrefix(port, "leaf:")
}
