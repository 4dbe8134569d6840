// Package crawler holds the domain types shared by the discovery and article
// pipelines: the site tree, article and failure records, the error taxonomy,
// URL normalization rules, the retry policy and the visited set.
package crawler
