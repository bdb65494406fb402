// Package modules discovers Terraform modules under a configured root
// and extracts their metadata: description, declared variables and
// outputs, provider and category from the path, and tags from the
// README. Results are cached; an fsnotify watcher invalidates the
// cache when files under the root change.
package modules
