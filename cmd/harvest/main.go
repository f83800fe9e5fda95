// Package main provides the harvest CLI.
//
// harvest fetches pages past common bot defenses, extracts their main text,
// images and links, and tracks visited URLs locally or in Redis.
//
// Usage:
//
//	harvest crawl https://example.com/article
//	harvest crawl --follow --depth 2 https://example.com/
//	harvest queue push --distributed https://example.com/
//	harvest queue drain --distributed --workers 8
//
// See --help for all available options.
package main

func main() {
	Execute()
}
