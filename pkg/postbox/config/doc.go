/*
Package config reads bus settings from YAML or JSON.

Values are exposed through typed accessors that return a default when a key
is absent or has the wrong type:

	cfg, err := config.FromFile("service.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	opts, err := postbox.OptionsFromConfig(cfg.Section("postbox"))
	if err != nil {
	    log.Fatal(err)
	}
	box := postbox.New(opts...)
	defer box.Close()

A typical section:

	postbox:
	  publisher: parallel
	  max_concurrency: 16
	  metrics: true
	  journal: ./failures.db
	  request_timeout: 2s

Config values are never modified after loading, so a Config may be shared
between goroutines.
*/
package config
