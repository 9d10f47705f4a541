// Package prompt renders batch prompts from a Handlebars template and one
// variable set per item, e.g.
//
//	Summarise {{basename path}}:
//
//	{{{truncate content 10000}}}
//
// Double-brace output is HTML-escaped as in Handlebars; use triple braces
// for source code or other raw text.
package prompt
