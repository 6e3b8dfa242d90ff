// Package vmerr defines the closed error taxonomy shared by the plugin
// runtime and its plugins.
//
// Every runtime operation reports one of a small fixed set of codes; no
// free-form errors cross the plugin/host boundary. Callers branch on the
// code recovered with CodeOf, not on message text.
package vmerr
