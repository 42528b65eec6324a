package payment

import (
	"fmt"
	"sort"
	"strings"

	"fundflow/internal/apperr"
)

// DefaultMethodMap is used when configuration names no providers.
func DefaultMethodMap() map[string]string {
	return map[string]string{
		string(MethodMobileMoney):  "mpesa",
		string(MethodCard):         "stripe",
		string(MethodBankTransfer): "bank",
		string(MethodEscrow):       "escrow",
	}
}

// Router maps payment methods to gateways. It is built once and never
// changes afterwards.
type Router struct {
	byMethod map[Method]Gateway
}

// NewRouter binds each method in methodMap to the gateway with the mapped
// name. Method keys are matched case-insensitively. A mapping to a gateway
// that is not in the list is a configuration error.
func NewRouter(gateways []Gateway, methodMap map[string]string) (*Router, error) {
	byName := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		if g == nil {
			continue
		}
		byName[strings.ToLower(g.Name())] = g
	}
	if len(methodMap) == 0 {
		methodMap = DefaultMethodMap()
	}
	r := &Router{byMethod: map[Method]Gateway{}}
	for method, provider := range methodMap {
		m := Method(strings.ToUpper(strings.TrimSpace(method)))
		provider = strings.ToLower(strings.TrimSpace(provider))
		if m == "" || provider == "" {
			continue
		}
		g, ok := byName[provider]
		if !ok {
			return nil, fmt.Errorf("payment method %s maps to unknown provider %q", m, provider)
		}
		r.byMethod[m] = g
	}
	return r, nil
}

func (r *Router) Route(method Method) (Gateway, error) {
	if r != nil {
		if g, ok := r.byMethod[Method(strings.ToUpper(strings.TrimSpace(string(method))))]; ok {
			return g, nil
		}
	}
	return nil, apperr.Validation(apperr.CodeUnsupportedPaymentMethod, "payment method %q is not supported", string(method))
}

// Supported lists the routed methods in name order.
func (r *Router) Supported() []Method {
	if r == nil {
		return nil
	}
	out := make([]Method, 0, len(r.byMethod))
	for m := range r.byMethod {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
