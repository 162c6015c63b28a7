// Package valdir lays out an image validation set for class-conditional
// evaluation.
//
// A validation archive holds the images flat. Two text files describe them:
// a category list with one class directory name per line, and a per-file
// list whose n-th line names the class of the n-th image in sorted order.
// Prepare extracts the archive below the output directory, creates the
// class directories and moves each image into its class.
//
// Archives may be plain tar or wrapped in gzip, zstd, lz4 or s2/snappy
// framing; the format is detected from the stream header. Every member is
// checked before anything is written, and an archive containing a member
// that would land outside the extraction directory is rejected as a whole
// with ErrPathTraversal.
package valdir
