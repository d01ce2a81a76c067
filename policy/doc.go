// Package policy provides optional declarative rules that can be applied on
// top of a running engine, for example to require human approval before
// selected steps execute or to block classes of commands outright.
package policy
