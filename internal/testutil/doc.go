// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing turns and conversations, and to derive
// randomly re-chunked fragment streams from complete backend messages.
// They are not intended for production usage.
package testutil
