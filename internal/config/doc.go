// Package config defines the build profile: the settings and options a package is
// built with, the folders it uses, the dependencies available to it and source
// download overrides. Profiles are YAML files loaded, validated and saved here.
package config
