// Package batch fans a list of prompts out over the executor with a
// counting admission gate and collects the results in input order.
package batch
