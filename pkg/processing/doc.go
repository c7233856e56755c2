// Package processing holds request processing helpers shared by the limiter.
//
// Its only subpackage today is tokens, which estimates the token cost of a
// chat request before it is sent and extracts actual usage from the response.
package processing
