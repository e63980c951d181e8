// Package fileutil holds small filesystem helpers shared by the catalog cache
// and the corpus writer.
package fileutil
