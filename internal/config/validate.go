package config

import (
	"fmt"
	"strings"
)

var validBackends = map[string]bool{
	"openai":    true,
	"azure":     true,
	"anthropic": true,
	"gemini":    true,
	"bedrock":   true,
}

var validStorageTypes = map[string]bool{
	"notion":   true,
	"dynamodb": true,
	"memory":   true,
}

var validEmailProviders = map[string]bool{
	"resend": true,
	"ses":    true,
}

// Validate checks the configuration and returns every problem found, not
// just the first. It is pure: no I/O, no mutation. A missing credential
// for an optional feature is not an error (the feature is disabled); a
// missing credential for a feature another setting depends on is.
func (c *Config) Validate() []error {
	var errs []error

	if !validBackends[c.AI.Backend] {
		errs = append(errs, fmt.Errorf("ai.backend %q is not one of openai, azure, anthropic, gemini, bedrock", c.AI.Backend))
	}
	if !validStorageTypes[c.Storage.Type] {
		errs = append(errs, fmt.Errorf("storage.type %q is not one of notion, dynamodb, memory", c.Storage.Type))
	}
	if !validEmailProviders[c.Email.Provider] {
		errs = append(errs, fmt.Errorf("email.provider %q is not one of resend, ses", c.Email.Provider))
	}

	if c.Storage.Type == "notion" {
		if c.Notion.Token == "" {
			errs = append(errs, fmt.Errorf("storage.type is notion but notion.token is empty"))
		}
		if c.Notion.ProspectsDB == "" {
			errs = append(errs, fmt.Errorf("storage.type is notion but notion.prospects_db is empty"))
		}
	}
	if c.Storage.Type == "dynamodb" && c.Storage.DynamoDBTable == "" {
		errs = append(errs, fmt.Errorf("storage.type is dynamodb but storage.dynamodb_table is empty"))
	}

	if c.Email.AutoSend {
		if !c.SendEnabled() {
			errs = append(errs, fmt.Errorf("email.auto_send is on but the %s provider has no credentials", c.Email.Provider))
		}
		if c.Email.SenderAddress == "" {
			errs = append(errs, fmt.Errorf("email.auto_send is on but email.sender_address is empty"))
		}
	}
	if c.Email.SenderAddress != "" && !strings.Contains(c.Email.SenderAddress, "@") {
		errs = append(errs, fmt.Errorf("email.sender_address %q is not an address", c.Email.SenderAddress))
	}

	if c.AI.Backend == "azure" && c.AzureOpenAI.APIKey != "" && c.AzureOpenAI.Endpoint == "" {
		errs = append(errs, fmt.Errorf("azure_openai.api_key is set but azure_openai.endpoint is empty"))
	}

	if c.Workers.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("workers.max_workers must be at least 1, got %d", c.Workers.MaxWorkers))
	}
	if c.Workers.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("workers.batch_size cannot be negative, got %d", c.Workers.BatchSize))
	}
	if c.Workers.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("workers.max_retries cannot be negative, got %d", c.Workers.MaxRetries))
	}
	if c.Workers.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("workers.queue_capacity must be at least 1, got %d", c.Workers.QueueCapacity))
	}

	if c.Cache.IsEnabled() {
		if c.Cache.MaxEntries < 1 {
			errs = append(errs, fmt.Errorf("cache.max_entries must be at least 1, got %d", c.Cache.MaxEntries))
		}
		if c.Cache.MaxMemoryMB < 1 {
			errs = append(errs, fmt.Errorf("cache.max_memory_mb must be at least 1, got %d", c.Cache.MaxMemoryMB))
		}
		if c.Cache.Directory == "" {
			errs = append(errs, fmt.Errorf("cache.directory is empty"))
		}
	}

	for name, rl := range c.RateLimits {
		if rl.PerMinute < 0 || rl.PerHour < 0 || rl.PerDay < 0 || rl.Burst < 0 || rl.MinIntervalMS < 0 {
			errs = append(errs, fmt.Errorf("rate_limits.%s has a negative window", name))
		}
	}

	if c.AI.PersonalizationFloor < 0 || c.AI.PersonalizationFloor > 1 {
		errs = append(errs, fmt.Errorf("ai.personalization_floor %.2f is outside [0,1]", c.AI.PersonalizationFloor))
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		errs = append(errs, fmt.Errorf("ai.temperature %.2f is outside [0,2]", c.AI.Temperature))
	}

	if c.Browser.Enabled && c.Browser.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("browser.pool_size must be at least 1, got %d", c.Browser.PoolSize))
	}

	if c.Analytics.Enabled && c.Analytics.S3Bucket != "" && c.Analytics.S3Region == "" && c.AWS.Region == "" {
		errs = append(errs, fmt.Errorf("analytics.s3_bucket is set but no region is configured"))
	}

	return errs
}
