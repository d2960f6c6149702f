// Package agent implements the request resolution pipeline: every
// intercepted dashboard request is classified, then resolved by the policy
// matching its category. Static assets are cache-first with an asynchronous
// refresh, dashboard data is network-first with a stale-flagged cache
// fallback, and navigations degrade to the cached root document or the
// embedded offline page. No policy ever propagates an error back to the
// request pipeline; each one resolves to a real, cached, or synthesized
// response.
package agent
