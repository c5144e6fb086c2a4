/*
Package droute implements rule-based routing of DNS queries to a set of upstream
resolvers. It is the dispatch layer of a DNS proxy sitting between clients and a
number of resolver backends.

Matchers

A DomainMatcher is a label trie that tests whether a query name falls under any of
a set of domain patterns. Inserting "example.com" covers the name itself and all of
its subdomains, but not "notexample.com".

Filters

A Filter holds an ordered list of rules, each pairing a destination tag with a
matcher, plus a default tag. The first rule that matches a query name decides the tag.

Upstreams

Upstreams are the configured resolvers keyed by tag. Plain DNS over UDP and TCP,
DNS-over-TLS, DNS-over-HTTPS as well as hybrid groups are supported. Hybrids send
the query to several other upstreams concurrently and use the first successful
response. All upstreams share one response cache.

Routers

A Router combines a Filter with Upstreams. The configuration is validated when the
router is built, and Resolve always returns a valid response, replacing upstream
failures with SERVFAIL.
*/
package droute
