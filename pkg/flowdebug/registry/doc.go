// Package registry provides a generic thread-safe registry that remembers
// the order in which keys were first registered.
//
// The debugger uses it for its flow catalog so that listings come back in
// declaration order rather than map order.
//
//	flows := registry.New[string, *flowdebug.BusinessFlow]()
//	flows.Register("user_registration", flow)
//
//	for _, name := range flows.Keys() {
//	    fmt.Println(name)
//	}
//
// Re-registering an existing key replaces the value but keeps the key's
// original position. All methods are safe for concurrent use, and Keys
// and Values return copies.
package registry
